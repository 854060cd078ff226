package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	amqp "github.com/rabbitmq/amqp091-go"

	"tg-collector/internal/domain"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakePublisher struct {
	key string
	msg amqp.Publishing
	err error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.key, f.msg = key, msg
	return f.err
}

type recorder struct {
	calls int
	err   error
}

func (r *recorder) NotifyRun(context.Context, domain.RunLogEntry) error {
	r.calls++
	return r.err
}

func sampleEntry() domain.RunLogEntry {
	return domain.RunLogEntry{
		ID:               7,
		ExecutionDate:    time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		TotalMessages:    42,
		FilteredMessages: 30,
		DocumentID:       "doc",
		DocumentURL:      "https://docs.google.com/document/d/doc/edit",
		Status:           domain.RunStatusSuccess,
		ProcessingTimeMS: 1500,
	}
}

func TestBotNotifyRunSendsSummary(t *testing.T) {
	bot := &fakeBot{}
	n := &Bot{bot: bot, chatID: 100}

	if err := n.NotifyRun(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("ожидали одно сообщение, получили %d", len(bot.sent))
	}
	text := bot.sent[0].Text
	for _, want := range []string{"2026-10-19", "SUCCESS", "42", "30", "docs.google.com", "1.5s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("в тексте нет %q: %s", want, text)
		}
	}
	if bot.sent[0].ChatID != 100 {
		t.Fatalf("неверный чат: %d", bot.sent[0].ChatID)
	}
}

func TestBotNotifyRunReportsSendError(t *testing.T) {
	n := &Bot{bot: &fakeBot{err: errors.New("forbidden")}, chatID: 1}
	if err := n.NotifyRun(context.Background(), sampleEntry()); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
}

func TestFormatRunFailure(t *testing.T) {
	entry := sampleEntry()
	entry.Status = domain.RunStatusFailed
	entry.ErrorMessage = "нет подключения"
	entry.DocumentURL = ""
	text := FormatRun(entry)
	if !strings.Contains(text, "FAILED") || !strings.Contains(text, "нет подключения") {
		t.Fatalf("нет сведений об ошибке: %s", text)
	}
	if strings.Contains(text, "Документ") {
		t.Fatalf("без документа ссылка не выводится: %s", text)
	}
}

func TestAMQPNotifyRunPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	a := &AMQP{ch: pub, queue: "collector_runs"}

	if err := a.NotifyRun(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if pub.key != "collector_runs" || pub.msg.ContentType != "application/json" || pub.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("неожиданная публикация: %q %+v", pub.key, pub.msg)
	}
	var got RunEvent
	if err := json.Unmarshal(pub.msg.Body, &got); err != nil {
		t.Fatalf("разбор тела: %v", err)
	}
	want := RunEvent{
		ID: 7, ExecutionDate: "2026-10-19", Status: "SUCCESS", TotalMessages: 42, FilteredMessages: 30,
		DocumentID: "doc", DocumentURL: "https://docs.google.com/document/d/doc/edit", ProcessingTimeMS: 1500,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("событие отличается (-want +got):\n%s", diff)
	}
	if a.Close() != nil {
		t.Fatalf("Close без соединения должен быть безопасен")
	}
}

func TestMultiCallsAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	first, second := &recorder{err: boom}, &recorder{}
	err := Multi{first, second}.NotifyRun(context.Background(), sampleEntry())
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку первого уведомителя, получили %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("все уведомители должны быть вызваны: %d/%d", first.calls, second.calls)
	}
}

func TestSplitMessageRespectsLimit(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 2000) + "\n" + strings.Repeat("c", 500)

	parts := splitMessage(text, messageLimit)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > messageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) || !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], "c") {
		t.Fatalf("неожиданное разбиение")
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	parts := splitMessage(strings.Repeat("x", 25), 10)
	if len(parts) != 3 || parts[2] != "xxxxx" {
		t.Fatalf("ожидали резку по лимиту: %q", parts)
	}
	if got := splitMessage("  \n ", 10); len(got) != 0 {
		t.Fatalf("пустой текст не даёт частей: %q", got)
	}
}
