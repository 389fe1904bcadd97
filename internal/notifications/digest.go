package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TargetDigest is one target's line in the daily summary.
type TargetDigest struct {
	Name      string
	Type      string
	Status    string
	Uptime24h float64
}

// SwitchDigest is one dead man's switch line in the daily summary.
type SwitchDigest struct {
	Name   string
	Status string
}

// SendDigest aggregates current status across all targets and switches into
// one message per enabled channel.
func (d *Dispatcher) SendDigest(ctx context.Context, now time.Time, targets []TargetDigest, switches []SwitchDigest) {
	dateStr := now.Format("Monday, January 2, 2006")

	var up, down, degraded int
	for _, t := range targets {
		switch t.Status {
		case "up":
			up++
		case "down":
			down++
		case "degraded":
			degraded++
		}
	}

	overallEmoji, overallStatus := "🟢", "All Systems Operational"
	if down > 0 {
		overallEmoji, overallStatus = "🔴", "Issues Detected"
	} else if degraded > 0 {
		overallEmoji, overallStatus = "🟡", "Some Degradation"
	}

	targetLines := make([]string, 0, len(targets))
	for _, t := range targets {
		targetLines = append(targetLines, fmt.Sprintf("%s %s: %s (%.1f%% 24h)",
			emojiFor(statusEmoji, t.Status, "⚪"), t.Name, strings.ToUpper(t.Status), t.Uptime24h))
	}

	deadmanLines := make([]string, 0, len(switches))
	for _, s := range switches {
		deadmanLines = append(deadmanLines, fmt.Sprintf("%s %s: %s",
			emojiFor(statusEmoji, s.Status, "⚪"), s.Name, strings.ToUpper(s.Status)))
	}

	if d.cfg.Telegram.Enabled {
		text := fmt.Sprintf(`<b>📊 Daily Status Report</b>
<i>%s</i>

<b>%s %s</b>
%d up | %d down | %d degraded

<b>Services:</b>
%s`, dateStr, overallEmoji, overallStatus, up, down, degraded, strings.Join(targetLines, "\n"))

		if len(deadmanLines) > 0 {
			text += "\n\n<b>Dead Man's Switches:</b>\n" + strings.Join(deadmanLines, "\n")
		}
		text += "\n\n<i>— Pytheus Watchdog</i>"

		if err := d.sendTelegramRaw(ctx, text); err != nil {
			d.log.Error().Err(err).Msg("failed to send telegram digest")
		}
	}

	if d.cfg.Slack.Enabled {
		err := d.sendSlackDigest(ctx, dateStr, overallEmoji, overallStatus, up, down, degraded, targetLines, deadmanLines)
		if err != nil {
			d.log.Error().Err(err).Msg("failed to send slack digest")
		}
	}
}
