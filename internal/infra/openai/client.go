package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-collector/internal/infra/metrics"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Роли сообщений диалога.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Client минимальный клиент Chat Completions.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента. Таймаут HTTP чуть больше таймаута генерации,
// чтобы первой срабатывала отмена контекста.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		http:    &http.Client{Timeout: timeout + 5*time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// ChatCompletionRequest тело запроса.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatMessage сообщение диалога.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse ответ модели.
type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionChoice вариант ответа.
type ChatCompletionChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionUsage расход токенов.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError ответ API с кодом >= 400.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai: статус %d", e.StatusCode)
	}
	return fmt.Sprintf("openai: %d %s", e.StatusCode, e.Message)
}

// Retryable сообщает, имеет ли смысл повторить запрос.
func (e *APIError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return e.Type != "insufficient_quota"
	}
	return e.StatusCode >= 500
}

// CreateChatCompletion вызывает POST /chat/completions.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (out ChatCompletionResponse, err error) {
	if c.apiKey == "" {
		return out, errors.New("openai: не задан ключ API")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("openai: кодирование запроса: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("openai: запрос: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
		if err == nil && out.Usage != nil {
			metrics.ObserveLLMGeneration(req.Model, time.Since(start), out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
		}
	}()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("openai: отправка: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("openai: чтение ответа: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, decodeAPIError(resp.StatusCode, raw)
	}
	if err = json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("openai: разбор ответа: %w", err)
	}
	return out, nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Message = payload.Error.Message
		apiErr.Type = payload.Error.Type
	}
	return apiErr
}
