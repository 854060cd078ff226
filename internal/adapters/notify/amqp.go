package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RunEvent сообщение о запуске в очереди.
type RunEvent struct {
	ID               int64  `json:"id"`
	ExecutionDate    string `json:"execution_date"`
	Status           string `json:"status"`
	TotalMessages    int    `json:"total_messages"`
	FilteredMessages int    `json:"filtered_messages"`
	ThemesExtracted  *int   `json:"themes_extracted,omitempty"`
	DocumentID       string `json:"google_doc_id,omitempty"`
	DocumentURL      string `json:"google_doc_url,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// AMQP публикует события запусков в очередь RabbitMQ.
type AMQP struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

var _ domain.RunNotifier = (*AMQP)(nil)

// NewAMQP подключается к брокеру и объявляет устойчивую очередь.
func NewAMQP(url, queue string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp канал: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: объявление очереди %s: %w", queue, err)
	}
	return &AMQP{conn: conn, ch: ch, queue: queue}, nil
}

// Close закрывает соединение.
func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// NotifyRun публикует запись журнала в JSON.
func (a *AMQP) NotifyRun(ctx context.Context, entry domain.RunLogEntry) error {
	body, err := json.Marshal(newRunEvent(entry))
	if err != nil {
		return err
	}
	start := time.Now()
	err = a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(entry.ID, 10),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	metrics.ObserveNetworkRequest("amqp", "publish", a.queue, start, err)
	if err != nil {
		return fmt.Errorf("notify: публикация: %w", err)
	}
	return nil
}

func newRunEvent(entry domain.RunLogEntry) RunEvent {
	return RunEvent{
		ID:               entry.ID,
		ExecutionDate:    entry.ExecutionDate.Format("2006-01-02"),
		Status:           string(entry.Status),
		TotalMessages:    entry.TotalMessages,
		FilteredMessages: entry.FilteredMessages,
		ThemesExtracted:  entry.ThemesExtracted,
		DocumentID:       entry.DocumentID,
		DocumentURL:      entry.DocumentURL,
		ErrorMessage:     entry.ErrorMessage,
		ProcessingTimeMS: entry.ProcessingTimeMS,
	}
}
