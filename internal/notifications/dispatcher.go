// Package notifications fans alerts out to the configured channels. One
// broken webhook must never silence the others: every channel delivery is
// isolated, failures are logged and swallowed.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/config"
)

// Severity indicator tables, kept as data so every channel maps consistently.
var (
	slackColors = map[string]string{
		"critical": "#FF0000",
		"warning":  "#FFA500",
		"info":     "#00FF00",
	}
	slackEmoji = map[string]string{
		"critical": ":red_circle:",
		"warning":  ":warning:",
		"info":     ":information_source:",
	}
	telegramEmoji = map[string]string{
		"critical": "🔴",
		"warning":  "🟡",
		"info":     "🟢",
	}
	statusEmoji = map[string]string{
		"up":       "🟢",
		"down":     "🔴",
		"degraded": "🟡",
		"unknown":  "⚪",
		"ok":       "🟢",
		"overdue":  "🟡",
		"critical": "🔴",
	}
)

type Dispatcher struct {
	cfg    config.Notifications
	client *http.Client
	log    zerolog.Logger

	// Overridable endpoints so tests can point senders at a local server.
	slackURL        string
	telegramAPIBase string
}

func NewDispatcher(cfg config.Notifications, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:             cfg,
		client:          &http.Client{Timeout: 10 * time.Second},
		log:             log,
		slackURL:        cfg.Slack.WebhookURL,
		telegramAPIBase: "https://api.telegram.org",
	}
}

// SendAlert delivers one alert to each requested channel. A failure on one
// channel does not prevent delivery attempts on the rest; unconfigured
// channels are skipped with a warning, not an error.
func (d *Dispatcher) SendAlert(ctx context.Context, title, message, severity, targetName string, channels []string) {
	for _, channel := range channels {
		var err error
		switch {
		case channel == "slack" && d.cfg.Slack.Enabled:
			err = d.sendSlack(ctx, title, message, severity, targetName)
		case channel == "telegram" && d.cfg.Telegram.Enabled:
			err = d.sendTelegram(ctx, title, message, severity, targetName)
		default:
			d.log.Warn().Str("channel", channel).Msg("channel not configured or disabled")
			continue
		}

		if err != nil {
			d.log.Error().Err(err).Str("channel", channel).Str("target", targetName).
				Msg("failed to send notification")
		}
	}
}

// SendRecovery delivers the recovery variant, always at info severity.
func (d *Dispatcher) SendRecovery(ctx context.Context, targetName, downtime string, channels []string) {
	title := fmt.Sprintf("✅ Service Recovered: %s", targetName)
	message := fmt.Sprintf("The service has recovered after %s of downtime.", downtime)
	d.SendAlert(ctx, title, message, "info", targetName, channels)
}

func emojiFor(table map[string]string, key, fallback string) string {
	if e, ok := table[key]; ok {
		return e
	}
	return fallback
}
