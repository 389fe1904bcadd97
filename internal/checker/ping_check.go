package checker

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/pytheus/watchdog/internal/models"
)

// runPingAttempt performs a single ICMP reachability attempt against the
// target host. The URL field of a ping target carries the bare host.
func runPingAttempt(ctx context.Context, target models.Target) (attemptResult, error) {
	pinger, err := probing.NewPinger(target.URL)
	if err != nil {
		return attemptResult{}, fmt.Errorf("failed to create pinger: %w", err)
	}

	timeout := time.Duration(target.TimeoutSeconds) * time.Second
	pinger.Count = 1
	pinger.Timeout = timeout

	if runtime.GOOS == "windows" {
		pinger.SetPrivileged(true)
	} else {
		pinger.SetPrivileged(false)
	}

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	start := time.Now()
	select {
	case err := <-done:
		if err != nil {
			return attemptResult{}, err
		}
	case <-ctx.Done():
		pinger.Stop()
		return attemptResult{}, ctx.Err()
	case <-time.After(timeout):
		pinger.Stop()
		return attemptResult{}, fmt.Errorf("ping timeout after %s", timeout)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return attemptResult{}, fmt.Errorf("no ping reply from %s", target.URL)
	}

	elapsed := float64(stats.AvgRtt.Microseconds()) / 1000.0
	if stats.AvgRtt == 0 {
		elapsed = float64(time.Since(start).Microseconds()) / 1000.0
	}

	return attemptResult{responseTimeMS: elapsed}, nil
}
