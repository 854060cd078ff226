package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

// DefaultInitialWindow окно первого запуска для источника без курсора.
const DefaultInitialWindow = 24 * time.Hour

// Result итог обработки одного источника.
type Result struct {
	Source   domain.Source
	Messages []domain.RawMessage
	// Cursor новое значение курсора; 0 если сообщений не было.
	Cursor int64
	Err    error
}

// Service загружает новые сообщения источников.
type Service struct {
	platform domain.SourcePlatform
	store    domain.StateStore
	log      zerolog.Logger
	window   time.Duration
	now      func() time.Time
}

// Option настраивает сервис.
type Option func(*Service)

// WithInitialWindow задаёт окно первого запуска.
func WithInitialWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис загрузки.
func NewService(platform domain.SourcePlatform, store domain.StateStore, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{platform: platform, store: store, log: log, window: DefaultInitialWindow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchNew возвращает новые текстовые сообщения источника и в обычном режиме
// подтверждает их прочтение и сдвигает курсор.
func (s *Service) FetchNew(ctx context.Context, source domain.Source, dryRun bool) Result {
	res := Result{Source: source}
	log := s.log.With().Str("source", source.ID).Str("name", source.DisplayName()).Logger()

	cursor, ok, err := s.store.GetCursor(ctx, source.ID)
	if err != nil {
		res.Err = fmt.Errorf("чтение курсора: %w", err)
		return res
	}

	var messages []domain.RawMessage
	if ok {
		log.Info().Int64("cursor", cursor).Msg("fetch: загрузка сообщений после курсора")
		messages, err = s.sinceCursor(ctx, source.ID, cursor)
	} else {
		log.Info().Dur("window", s.window).Msg("fetch: первый запуск, загрузка за окно")
		messages, err = s.initialWindow(ctx, source.ID)
	}
	if err != nil {
		metrics.CollectorErrors.Inc()
		res.Err = fmt.Errorf("загрузка истории %s: %w", source.DisplayName(), err)
		return res
	}
	res.Messages = messages
	metrics.ObserveFetched(source.ID, len(messages))

	if len(messages) == 0 {
		log.Info().Msg("fetch: новых сообщений нет")
		return res
	}
	for _, m := range messages {
		if m.MessageID > res.Cursor {
			res.Cursor = m.MessageID
		}
	}
	log = log.With().Int("count", len(messages)).Int64("new_cursor", res.Cursor).Logger()

	if dryRun {
		log.Info().Msg("fetch: [dry-run] прочтение и курсор не меняем")
		return res
	}

	if err := s.platform.Acknowledge(ctx, source.ID, res.Cursor); err != nil {
		log.Warn().Err(err).Msg("fetch: не удалось отметить сообщения прочитанными")
	}
	if err := s.store.AdvanceCursor(ctx, source.ID, res.Cursor, source.DisplayName()); err != nil {
		res.Err = fmt.Errorf("сохранение курсора: %w", err)
		return res
	}
	log.Info().Msg("fetch: курсор обновлён")
	return res
}

func (s *Service) initialWindow(ctx context.Context, sourceID string) ([]domain.RawMessage, error) {
	cutoff := s.now().Add(-s.window)
	var out []domain.RawMessage
	for m, err := range s.platform.ListMessagesSince(ctx, sourceID, nil) {
		if err != nil {
			return nil, err
		}
		// История идёт от новых к старым: первое старое сообщение завершает окно.
		if m.Timestamp.Before(cutoff) {
			break
		}
		if hasText(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) sinceCursor(ctx context.Context, sourceID string, cursor int64) ([]domain.RawMessage, error) {
	after := cursor
	var out []domain.RawMessage
	for m, err := range s.platform.ListMessagesSince(ctx, sourceID, &after) {
		if err != nil {
			return nil, err
		}
		if m.MessageID <= cursor {
			continue
		}
		if hasText(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// hasText отбрасывает только сообщения без текста. Текст из одних пробелов
// остаётся и учитывается фильтром как no_text.
func hasText(m domain.RawMessage) bool {
	return m.Text != ""
}
