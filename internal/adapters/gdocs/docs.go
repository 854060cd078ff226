package gdocs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

// Host публикует документы в Google Docs.
type Host struct {
	svc *docs.Service
	log zerolog.Logger
}

var _ domain.DocumentHost = (*Host)(nil)

// NewHost создаёт клиента Docs поверх авторизованного http.Client.
func NewHost(ctx context.Context, client *http.Client, log zerolog.Logger, opts ...option.ClientOption) (*Host, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdocs: создание сервиса: %w", err)
	}
	return &Host{svc: svc, log: log}, nil
}

// DocumentURL ссылка на редактирование документа.
func DocumentURL(id string) string {
	return "https://docs.google.com/document/d/" + id + "/edit"
}

// CreateDocument создаёт документ и вставляет текст.
func (h *Host) CreateDocument(ctx context.Context, title, text string) (domain.Document, error) {
	start := time.Now()
	doc, err := h.svc.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gdocs", "documents_create", "docs", start, err)
	if err != nil {
		return domain.Document{}, fmt.Errorf("gdocs: создание документа: %w", err)
	}
	h.log.Info().Str("document_id", doc.DocumentId).Str("title", title).Msg("gdocs: документ создан")

	if err := h.batch(ctx, doc.DocumentId, insertAtStart(text)); err != nil {
		return domain.Document{}, fmt.Errorf("gdocs: вставка текста: %w", err)
	}
	return domain.Document{ID: doc.DocumentId, URL: DocumentURL(doc.DocumentId)}, nil
}

// UpdateDocument заменяет всё содержимое документа. Заголовок существующего документа API не меняет.
func (h *Host) UpdateDocument(ctx context.Context, id, title, text string) (domain.Document, error) {
	start := time.Now()
	doc, err := h.svc.Documents.Get(id).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gdocs", "documents_get", "docs", start, err)
	if err != nil {
		return domain.Document{}, fmt.Errorf("gdocs: чтение документа %s: %w", id, err)
	}

	var requests []*docs.Request
	// Последний символ тела документа удалить нельзя.
	if end := bodyEnd(doc); end-1 > 1 {
		requests = append(requests, &docs.Request{DeleteContentRange: &docs.DeleteContentRangeRequest{
			Range: &docs.Range{StartIndex: 1, EndIndex: end - 1},
		}})
	}
	requests = append(requests, insertAtStart(text)...)
	if err := h.batch(ctx, id, requests); err != nil {
		return domain.Document{}, fmt.Errorf("gdocs: обновление документа %s: %w", id, err)
	}
	h.log.Info().Str("document_id", id).Str("title", title).Msg("gdocs: документ обновлён")
	return domain.Document{ID: id, URL: DocumentURL(id)}, nil
}

// Check читает документ, чтобы убедиться в доступе к нему.
func (h *Host) Check(ctx context.Context, id string) (string, error) {
	start := time.Now()
	doc, err := h.svc.Documents.Get(id).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gdocs", "documents_get", "docs", start, err)
	if err != nil {
		return "", fmt.Errorf("gdocs: чтение документа %s: %w", id, err)
	}
	return doc.Title, nil
}

func (h *Host) batch(ctx context.Context, id string, requests []*docs.Request) error {
	start := time.Now()
	_, err := h.svc.Documents.BatchUpdate(id, &docs.BatchUpdateDocumentRequest{Requests: requests}).Context(ctx).Do()
	metrics.ObserveNetworkRequest("gdocs", "documents_batch_update", "docs", start, err)
	return err
}

func insertAtStart(text string) []*docs.Request {
	return []*docs.Request{{InsertText: &docs.InsertTextRequest{
		Location: &docs.Location{Index: 1},
		Text:     text,
	}}}
}

func bodyEnd(doc *docs.Document) int64 {
	if doc == nil || doc.Body == nil || len(doc.Body.Content) == 0 {
		return 1
	}
	return doc.Body.Content[len(doc.Body.Content)-1].EndIndex
}
