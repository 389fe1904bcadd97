package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func (d *Dispatcher) sendSlack(ctx context.Context, title, message, severity, targetName string) error {
	if d.slackURL == "" {
		return fmt.Errorf("slack webhook_url is required")
	}

	channel := d.cfg.Slack.Channel
	if channel == "" {
		channel = "#monitoring"
	}

	payload := map[string]any{
		"channel":    channel,
		"username":   "Pytheus Watchdog",
		"icon_emoji": ":robot_face:",
		"attachments": []map[string]any{
			{
				"color": emojiFor(slackColors, severity, "#808080"),
				"title": fmt.Sprintf("%s %s", emojiFor(slackEmoji, severity, ":bell:"), title),
				"text":  message,
				"fields": []map[string]any{
					{"title": "Service", "value": targetName, "short": true},
					{"title": "Severity", "value": strings.ToUpper(severity), "short": true},
				},
				"footer": "Pytheus Watchdog",
				"ts":     time.Now().Unix(),
			},
		},
	}

	return d.postJSON(ctx, d.slackURL, payload, "slack")
}

func (d *Dispatcher) sendSlackDigest(ctx context.Context, dateStr, overallEmoji, overallStatus string,
	up, down, degraded int, targetLines, deadmanLines []string) error {
	if d.slackURL == "" {
		return fmt.Errorf("slack webhook_url is required")
	}

	channel := d.cfg.Slack.Channel
	if channel == "" {
		channel = "#monitoring"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": "📊 Daily Status Report"},
		},
		{
			"type":     "context",
			"elements": []map[string]any{{"type": "mrkdwn", "text": dateStr}},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s %s*\n%d up | %d down | %d degraded", overallEmoji, overallStatus, up, down, degraded),
			},
		},
		{"type": "divider"},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "*Services:*\n" + strings.Join(targetLines, "\n"),
			},
		},
	}

	if len(deadmanLines) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "*Dead Man's Switches:*\n" + strings.Join(deadmanLines, "\n"),
			},
		})
	}

	payload := map[string]any{
		"channel":    channel,
		"username":   "Pytheus Watchdog",
		"icon_emoji": ":robot_face:",
		"blocks":     blocks,
	}

	return d.postJSON(ctx, d.slackURL, payload, "slack")
}

func (d *Dispatcher) postJSON(ctx context.Context, url string, payload any, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s message: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}
