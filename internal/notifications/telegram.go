package notifications

import (
	"context"
	"fmt"
	"strings"
)

func (d *Dispatcher) sendTelegram(ctx context.Context, title, message, severity, targetName string) error {
	if d.cfg.Telegram.BotToken == "" || d.cfg.Telegram.ChatID == "" {
		return fmt.Errorf("telegram bot_token and chat_id are required")
	}

	text := fmt.Sprintf(`<b>%s %s</b>

%s

<b>Service:</b> %s
<b>Severity:</b> %s

<i>— Pytheus Watchdog</i>`,
		emojiFor(telegramEmoji, severity, "🔔"), title, message, targetName, strings.ToUpper(severity))

	return d.sendTelegramRaw(ctx, text)
}

func (d *Dispatcher) sendTelegramRaw(ctx context.Context, text string) error {
	if d.cfg.Telegram.BotToken == "" || d.cfg.Telegram.ChatID == "" {
		return fmt.Errorf("telegram bot_token and chat_id are required")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.telegramAPIBase, d.cfg.Telegram.BotToken)
	payload := map[string]any{
		"chat_id":                  d.cfg.Telegram.ChatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	return d.postJSON(ctx, url, payload, "telegram")
}
