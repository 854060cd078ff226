package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

// Transformer вызывает модель Gemini.
type Transformer struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	name    string
	timeout time.Duration
}

var _ domain.Transformer = (*Transformer)(nil)

// New создаёт клиента Gemini.
func New(ctx context.Context, apiKey, model string, timeout time.Duration) (*Transformer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY не задан", domain.ErrConfig)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: создание клиента: %w", err)
	}
	return &Transformer{client: client, model: client.GenerativeModel(model), name: model, timeout: timeout}, nil
}

// Close освобождает соединения клиента.
func (t *Transformer) Close() error { return t.client.Close() }

// Transform отправляет запрос и возвращает текст ответа.
func (t *Transformer) Transform(ctx context.Context, prompt string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := t.model.GenerateContent(ctx, genai.Text(prompt))
	metrics.ObserveNetworkRequest("gemini", "generate_content", t.name, start, err)
	if err != nil {
		return "", Classify(err)
	}
	if u := resp.UsageMetadata; u != nil {
		metrics.ObserveLLMGeneration(t.name, time.Since(start), int(u.PromptTokenCount), int(u.CandidatesTokenCount), int(u.TotalTokenCount))
	}
	return responseText(resp), nil
}

// Ping проверяет ключ коротким запросом.
func (t *Transformer) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := t.model.GenerateContent(ctx, genai.Text("test"))
	if err != nil {
		return Classify(err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		// Достаточно первого кандидата с содержимым.
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// Classify сводит ошибки API к доменным: квота и авторизация не повторяются.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("%w: %v", domain.ErrTransformQuota, err)
		case codes.Unauthenticated, codes.PermissionDenied:
			return fmt.Errorf("%w: %v", domain.ErrTransformAuth, err)
		}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", domain.ErrTransformQuota, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", domain.ErrTransformAuth, err)
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", domain.ErrTransformQuota, err)
	case strings.Contains(msg, "api key") || strings.Contains(msg, "api_key_invalid") || strings.Contains(msg, "permission_denied"):
		return fmt.Errorf("%w: %v", domain.ErrTransformAuth, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
