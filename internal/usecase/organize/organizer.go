package organize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/retry"
)

// Outcome результат упорядочивания.
type Outcome struct {
	Content string
	// Fallback истина, если модель вернула пустой ответ и документ собран без неё.
	Fallback bool
}

// Organizer превращает отобранные сообщения в тематический документ.
type Organizer struct {
	transformer domain.Transformer
	policy      retry.Policy
	log         zerolog.Logger
	now         func() time.Time
}

// NewOrganizer создаёт организатор с политикой повторов для временных ошибок.
func NewOrganizer(transformer domain.Transformer, policy retry.Policy, log zerolog.Logger) *Organizer {
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &Organizer{transformer: transformer, policy: policy, log: log, now: time.Now}
}

// IsTransient сообщает, можно ли повторить вызов модели.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrTransformQuota) || errors.Is(err, domain.ErrTransformAuth) {
		return false
	}
	var hinted interface{ Retryable() bool }
	if errors.As(err, &hinted) {
		return hinted.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// Organize вызывает модель один раз со всеми сообщениями.
func (o *Organizer) Organize(ctx context.Context, messages []domain.RawMessage) (Outcome, error) {
	if len(messages) == 0 {
		return Outcome{Content: EmptyDocument(o.now())}, nil
	}
	prompt := BuildPrompt(messages, o.now())

	var content string
	err := o.policy.Do(ctx, func(ctx context.Context) error {
		out, err := o.transformer.Transform(ctx, prompt)
		if err != nil {
			return err
		}
		content = strings.TrimSpace(out)
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		o.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("organize: временная ошибка модели, повторяем")
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("упорядочивание сообщений: %w", err)
	}
	if content == "" {
		o.log.Warn().Int("messages", len(messages)).Msg("organize: пустой ответ модели, собираем документ без ИИ")
		return Outcome{Content: FallbackDocument(messages, o.now()), Fallback: true}, nil
	}
	return Outcome{Content: content}, nil
}

// DryRunDocument заглушка вместо вызова модели.
func DryRunDocument(count int) string {
	return fmt.Sprintf("# Dry Run\n\n%d messages would be processed\n", count)
}

// CountThemes считает заголовки тем третьего уровня в документе.
func CountThemes(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "### ") {
			n++
		}
	}
	return n
}
