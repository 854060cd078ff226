package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

const messageLimit = 4096

// botSender часть tgbotapi.BotAPI, нужная уведомителю.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot отправляет сводку запуска в чат через Bot API.
type Bot struct {
	bot    botSender
	chatID int64
}

var _ domain.RunNotifier = (*Bot)(nil)

// NewBot создаёт уведомитель для токена бота.
func NewBot(token string, chatID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: бот: %w", err)
	}
	return &Bot{bot: api, chatID: chatID}, nil
}

// NotifyRun отправляет сообщение о результате запуска.
func (b *Bot) NotifyRun(_ context.Context, entry domain.RunLogEntry) error {
	for _, part := range splitMessage(FormatRun(entry), messageLimit) {
		msg := tgbotapi.NewMessage(b.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := b.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(b.chatID, 10), start, err)
		if err != nil {
			return fmt.Errorf("notify: отправка: %w", err)
		}
	}
	return nil
}

// FormatRun текст уведомления о запуске.
func FormatRun(entry domain.RunLogEntry) string {
	var sb strings.Builder
	icon := "✅"
	if entry.Status != domain.RunStatusSuccess {
		icon = "❌"
	}
	fmt.Fprintf(&sb, "%s Сбор %s: %s\n", icon, entry.ExecutionDate.Format("2006-01-02"), entry.Status)
	fmt.Fprintf(&sb, "Сообщений: %d, после фильтра: %d\n", entry.TotalMessages, entry.FilteredMessages)
	if entry.DocumentURL != "" {
		fmt.Fprintf(&sb, "Документ: %s\n", entry.DocumentURL)
	}
	if entry.ErrorMessage != "" {
		fmt.Fprintf(&sb, "Ошибка: %s\n", entry.ErrorMessage)
	}
	fmt.Fprintf(&sb, "Время: %s", (time.Duration(entry.ProcessingTimeMS) * time.Millisecond).Round(time.Millisecond))
	return sb.String()
}

// splitMessage режет текст на части не длиннее limit рун, предпочитая переводы строк.
func splitMessage(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end; i > start; i-- {
				if runes[i-1] == '\n' {
					end = i
					break
				}
			}
		}
		if chunk := strings.Trim(string(runes[start:end]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = end
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}
