package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pytheus/watchdog/internal/models"
)

// attemptResult is the outcome of one successful probe attempt.
type attemptResult struct {
	responseTimeMS float64
	statusCode     *int
	body           string
}

// runHTTPAttempt performs a single HTTP check attempt. An attempt fails if
// the transport errors, the status code differs from the expected one, or a
// required content substring is absent.
func runHTTPAttempt(ctx context.Context, target models.Target) (attemptResult, error) {
	client := http.Client{Timeout: time.Duration(target.TimeoutSeconds) * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return attemptResult{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		return attemptResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != target.ExpectedStatus {
		return attemptResult{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if target.ContentMatch != "" && !strings.Contains(string(body), target.ContentMatch) {
		return attemptResult{}, fmt.Errorf("content match failed: %q not found in response", target.ContentMatch)
	}

	code := resp.StatusCode
	return attemptResult{
		responseTimeMS: elapsed,
		statusCode:     &code,
		body:           string(body),
	}, nil
}
