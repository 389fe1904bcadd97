// Package triage confirms classifier findings before they become incidents.
// The live implementation asks an external model for a structured verdict;
// when the integration is not configured or misbehaves, the adapter trusts
// the classifier instead of failing the probe.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/statuspage"
)

// Request carries everything the external service needs to judge a finding.
type Request struct {
	PlatformName string
	SourceURL    string
	Markup       string
	ParserStatus string
	ParserDesc   string
}

// Confirmation is the structured verdict. A zero Confirmation is never
// returned: every path produces a usable verdict.
type Confirmation struct {
	Confirmed      bool   `json:"confirmed"`
	Severity       string `json:"severity"`
	Summary        string `json:"summary"`
	AffectsUsers   bool   `json:"affects_users"`
	Recommendation string `json:"recommendation"`
}

// Confirmer upgrades or downgrades a classifier verdict.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) Confirmation
}

// New selects the implementation from configuration: an empty API key yields
// the trusting fallback, anything else the live client.
func New(apiKey, model, baseURL string, log zerolog.Logger) Confirmer {
	if apiKey == "" {
		log.Warn().Msg("AI triage disabled, classifier verdicts will be trusted as-is")
		return disabled{}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	log.Info().Str("model", model).Msg("AI triage enabled")
	return &client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// disabled trusts the classifier unconditionally.
type disabled struct{}

func (disabled) Confirm(_ context.Context, req Request) Confirmation {
	return trustParser(req)
}

func trustParser(req Request) Confirmation {
	summary := req.ParserDesc
	if summary == "" {
		summary = "Platform issue detected"
	}
	return Confirmation{
		Confirmed:      true,
		Severity:       "warning",
		Summary:        summary,
		AffectsUsers:   true,
		Recommendation: "Monitor the situation",
	}
}

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	maxPageChars     = 4000
	maxReplyTokens   = 500
)

type client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func (c *client) Confirm(ctx context.Context, req Request) Confirmation {
	verdict, err := c.ask(ctx, req)
	if err != nil {
		c.log.Error().Err(err).Str("platform", req.PlatformName).Msg("AI triage failed, trusting classifier")
		return trustParser(req)
	}

	c.log.Info().
		Str("platform", req.PlatformName).
		Bool("confirmed", verdict.Confirmed).
		Str("severity", verdict.Severity).
		Msg("AI triage verdict")
	return verdict
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *client) ask(ctx context.Context, req Request) (Confirmation, error) {
	pageText := statuspage.ExtractText(req.Markup)
	if len(pageText) > maxPageChars {
		pageText = pageText[:maxPageChars]
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxReplyTokens,
		Messages:  []message{{Role: "user", Content: buildPrompt(req, pageText)}},
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Confirmation{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Confirmation{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Confirmation{}, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var reply messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Confirmation{}, fmt.Errorf("decode response: %w", err)
	}
	if len(reply.Content) == 0 {
		return Confirmation{}, fmt.Errorf("empty response")
	}

	var verdict Confirmation
	if err := json.Unmarshal([]byte(reply.Content[0].Text), &verdict); err != nil {
		return Confirmation{}, fmt.Errorf("parse verdict: %w", err)
	}
	return verdict, nil
}

func buildPrompt(req Request, pageText string) string {
	return fmt.Sprintf(`You are a monitoring system analyzing a platform status page to determine if there's an actual issue that would affect users.

Platform: %s
Status Page URL: %s

Our automated parser detected: %s
Parser description: %s

Here is the text content from the status page:
---
%s
---

Analyze this status page and respond with a JSON object (no markdown, just raw JSON):
{
  "confirmed": true/false,
  "severity": "critical|warning|info",
  "summary": "Brief 1-2 sentence summary of the issue",
  "affects_users": true/false,
  "recommendation": "What should the user do?"
}

Important:
- "confirmed" should be true only if there's a CURRENT, ACTIVE issue (not resolved or scheduled maintenance in the future)
- "severity" should be "critical" only for major outages, "warning" for degraded performance, "info" for minor issues
- If it's just scheduled maintenance that hasn't started, set confirmed to false
- If all systems show operational/green, set confirmed to false
- Be concise in your summary`,
		req.PlatformName, req.SourceURL, req.ParserStatus, req.ParserDesc, pageText)
}
