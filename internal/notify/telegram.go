package notify

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

// Telegram pushes finalization notices to a Telegram chat. Session keys
// take the form "telegram:<chatID>".
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Notify is a Handler: it parses the chat id out of the session key and
// sends the message, splitting it to fit Telegram's length limit.
func (t *Telegram) Notify(sessionKey, message string) error {
	chatID, err := chatIDFromKey(sessionKey)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(message) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			// Retry without markdown: the text may not parse as such.
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				return fmt.Errorf("send notification: %w", err)
			}
		}
	}
	return nil
}

func chatIDFromKey(sessionKey string) (int64, error) {
	rest, ok := strings.CutPrefix(sessionKey, "telegram:")
	if !ok {
		return 0, fmt.Errorf("not a telegram session key: %s", sessionKey)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id in session key %q: %w", sessionKey, err)
	}
	return chatID, nil
}

// splitMessage breaks text into chunks within the Telegram limit,
// preferring to split at line boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}

	var parts []string
	for len(text) > maxTelegramMessage {
		cut := strings.LastIndex(text[:maxTelegramMessage], "\n")
		if cut <= 0 {
			cut = maxTelegramMessage
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
