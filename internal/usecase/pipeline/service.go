package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
	"tg-collector/internal/usecase/fetch"
	"tg-collector/internal/usecase/filter"
	"tg-collector/internal/usecase/organize"
)

// DefaultDailyQuota лимит успешных запусков с вызовом ИИ в сутки.
const DefaultDailyQuota = 20

// State этап конвейера.
type State string

const (
	StateInit         State = "INIT"
	StateConnected    State = "CONNECTED"
	StateCollecting   State = "COLLECTING"
	StateFiltering    State = "FILTERING"
	StateTransforming State = "TRANSFORMING"
	StatePublishing   State = "PUBLISHING"
	StateLogging      State = "LOGGING"
	StateDone         State = "DONE"
	StateAborted      State = "ABORTED"
)

// Fetcher загружает новые сообщения одного источника.
type Fetcher interface {
	FetchNew(ctx context.Context, source domain.Source, dryRun bool) fetch.Result
}

// Organizer упорядочивает сообщения в документ.
type Organizer interface {
	Organize(ctx context.Context, messages []domain.RawMessage) (organize.Outcome, error)
}

// Options параметры одного запуска.
type Options struct {
	RunID    string
	DryRun   bool
	TestMode bool
	// Validate проверяет обязательную конфигурацию; не вызывается в dry-run.
	Validate func() error
}

// Report итог запуска.
type Report struct {
	RunID        string
	State        State
	Total        int
	Filtered     int
	FilterStats  filter.Stats
	SourceErrors map[string]error
	BackupPath   string
	Document     *domain.Document
	LogID        int64
	Duration     time.Duration
}

// Deps зависимости конвейера.
type Deps struct {
	Store     domain.StateStore
	Platform  domain.SourcePlatform
	Fetcher   Fetcher
	Organizer Organizer
	Backup    domain.BackupWriter
	Host      domain.DocumentHost
	Notifier  domain.RunNotifier
}

// Config настройки конвейера.
type Config struct {
	Sources    []domain.Source
	Filter     domain.FilterConfig
	DailyQuota int
	// DocumentID если задан, публикация обновляет этот документ вместо создания нового.
	DocumentID string
	Location   *time.Location
}

// Service управляет запуском: сбор, фильтр, ИИ, сохранение, публикация, журнал.
type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time
}

// NewService создаёт конвейер.
func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = DefaultDailyQuota
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{deps: deps, cfg: cfg, log: log, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) clock() time.Time { return s.now().In(s.cfg.Location) }

type run struct {
	opts   Options
	start  time.Time
	log    zerolog.Logger
	report *Report
	entry  domain.RunLogEntry
}

// Run выполняет один запуск конвейера.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	start := s.clock()
	report := Report{RunID: opts.RunID, State: StateInit, SourceErrors: map[string]error{}}
	r := &run{
		opts:   opts,
		start:  start,
		log:    s.log.With().Str("run_id", opts.RunID).Logger(),
		report: &report,
		entry:  domain.RunLogEntry{ExecutionDate: domain.DateOnly(start), Status: domain.RunStatusSuccess},
	}
	switch {
	case opts.DryRun:
		r.log.Info().Msg("pipeline: режим DRY RUN")
	case opts.TestMode:
		r.log.Info().Msg("pipeline: режим TEST")
	default:
		r.log.Info().Msg("pipeline: рабочий режим")
	}

	err := s.execute(ctx, r)
	report.Duration = s.clock().Sub(start)
	if err == nil {
		metrics.ObserveRun(string(domain.RunStatusSuccess), report.Duration)
		return report, nil
	}

	failedAt := report.State
	report.State = StateAborted
	metrics.ObserveRun(string(domain.RunStatusFailed), report.Duration)
	r.log.Error().Err(err).Str("state", string(failedAt)).Msg("pipeline: запуск прерван")

	if errors.Is(err, domain.ErrQuotaExceeded) || errors.Is(err, domain.ErrConfig) {
		return report, err
	}
	if opts.DryRun || opts.TestMode {
		return report, err
	}
	r.entry.Status = domain.RunStatusFailed
	r.entry.ErrorMessage = err.Error()
	r.entry.DocumentID, r.entry.DocumentURL = "", ""
	// Прерванный сигналом запуск тоже попадает в журнал.
	logCtx := context.WithoutCancel(ctx)
	if id, logErr := s.appendLog(logCtx, r); logErr != nil {
		r.log.Error().Err(logErr).Msg("pipeline: не удалось записать неуспешный запуск в журнал")
	} else {
		report.LogID = id
		s.notify(logCtx, r)
	}
	return report, err
}

func (s *Service) execute(ctx context.Context, r *run) error {
	if err := s.init(ctx, r); err != nil {
		return err
	}

	messages, err := s.collect(ctx, r)
	if err != nil {
		return err
	}
	r.report.Total = len(messages)
	r.entry.TotalMessages = len(messages)
	if len(messages) == 0 {
		r.log.Info().Msg("pipeline: новых сообщений нет")
		return s.finish(ctx, r)
	}

	r.report.State = StateFiltering
	admitted, stats := filter.Apply(messages, s.cfg.Filter, r.log)
	metrics.ObserveFilter(stats.TooShort, stats.PatternMatch, stats.NoText)
	r.report.FilterStats = stats
	r.report.Filtered = len(admitted)
	r.entry.FilteredMessages = len(admitted)
	r.log.Info().
		Int("total", stats.Total).
		Int("admitted", len(admitted)).
		Int("too_short", stats.TooShort).
		Int("pattern_match", stats.PatternMatch).
		Int("no_text", stats.NoText).
		Msg("pipeline: фильтрация завершена")
	if len(admitted) == 0 {
		r.log.Info().Msg("pipeline: после фильтрации сообщений не осталось")
		return s.finish(ctx, r)
	}

	r.report.State = StateTransforming
	content, err := s.transform(ctx, r, admitted)
	if err != nil {
		return err
	}

	path, err := s.deps.Backup.Save(content, "")
	if err != nil {
		return fmt.Errorf("локальная копия: %w", err)
	}
	r.report.BackupPath = path
	r.log.Info().Str("path", path).Msg("pipeline: локальная копия сохранена")

	r.report.State = StatePublishing
	s.publish(ctx, r, content)

	return s.finish(ctx, r)
}

func (s *Service) init(ctx context.Context, r *run) error {
	enabled := enabledSources(s.cfg.Sources)
	r.log.Info().Int("sources", len(enabled)).Msg("pipeline: загружена конфигурация")
	if r.opts.DryRun {
		return nil
	}
	if r.opts.Validate != nil {
		if err := r.opts.Validate(); err != nil {
			return err
		}
	}
	if len(enabled) == 0 {
		return fmt.Errorf("%w: нет включённых источников", domain.ErrConfig)
	}

	calls, err := s.deps.Store.CountSuccessfulRuns(ctx, r.entry.ExecutionDate)
	if err != nil {
		return fmt.Errorf("подсчёт запусков за день: %w", err)
	}
	r.log.Info().Int("calls_today", calls).Int("quota", s.cfg.DailyQuota).Msg("pipeline: проверка дневного лимита")
	if calls >= s.cfg.DailyQuota {
		return fmt.Errorf("%w: %d/%d", domain.ErrQuotaExceeded, calls, s.cfg.DailyQuota)
	}
	return nil
}

func (s *Service) collect(ctx context.Context, r *run) (_ []domain.RawMessage, err error) {
	if err := s.deps.Platform.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	defer func() {
		if dErr := s.deps.Platform.Disconnect(); dErr != nil {
			r.log.Warn().Err(dErr).Msg("pipeline: ошибка отключения от платформы")
		}
	}()
	r.report.State = StateConnected
	r.log.Info().Msg("pipeline: подключение к платформе установлено")

	r.report.State = StateCollecting
	var all []domain.RawMessage
	for _, source := range enabledSources(s.cfg.Sources) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := s.deps.Fetcher.FetchNew(ctx, source, r.opts.DryRun)
		if res.Err != nil {
			r.report.SourceErrors[source.ID] = res.Err
			r.log.Error().Err(res.Err).Str("source", source.ID).Msg("pipeline: источник пропущен")
			continue
		}
		all = append(all, res.Messages...)
	}
	r.log.Info().Int("total", len(all)).Int("failed_sources", len(r.report.SourceErrors)).Msg("pipeline: сбор завершён")
	return all, nil
}

func (s *Service) transform(ctx context.Context, r *run, admitted []domain.RawMessage) (string, error) {
	if r.opts.DryRun {
		r.log.Info().Msg("pipeline: [dry-run] вызов ИИ пропущен")
		return organize.DryRunDocument(len(admitted)), nil
	}
	if s.deps.Organizer == nil {
		return "", fmt.Errorf("%w: генеративная модель не настроена", domain.ErrConfig)
	}
	r.log.Info().Int("messages", len(admitted)).Msg("pipeline: упорядочивание через ИИ")
	out, err := s.deps.Organizer.Organize(ctx, admitted)
	if err != nil {
		return "", err
	}
	if !out.Fallback {
		themes := organize.CountThemes(out.Content)
		r.entry.ThemesExtracted = &themes
	}
	return out.Content, nil
}

func (s *Service) publish(ctx context.Context, r *run, content string) {
	switch {
	case r.opts.DryRun:
		r.log.Info().Msg("pipeline: [dry-run] публикация пропущена")
		return
	case r.opts.TestMode:
		r.log.Info().Msg("pipeline: [test] публикация пропущена")
		return
	case s.deps.Host == nil:
		r.log.Warn().Msg("pipeline: хостинг документов не настроен, публикация пропущена")
		return
	}
	title := "Telegram Messages - " + r.start.Format("2006-01-02")
	var (
		doc domain.Document
		err error
	)
	if s.cfg.DocumentID != "" {
		doc, err = s.deps.Host.UpdateDocument(ctx, s.cfg.DocumentID, title, content)
	} else {
		doc, err = s.deps.Host.CreateDocument(ctx, title, content)
	}
	if err != nil {
		r.log.Error().Err(err).Msg("pipeline: публикация не удалась, остаётся локальная копия")
		return
	}
	r.report.Document = &doc
	r.entry.DocumentID = doc.ID
	r.entry.DocumentURL = doc.URL
	r.log.Info().Str("url", doc.URL).Msg("pipeline: документ опубликован")
}

func (s *Service) finish(ctx context.Context, r *run) error {
	r.report.State = StateLogging
	if r.opts.DryRun || r.opts.TestMode {
		r.report.State = StateDone
		return nil
	}
	id, err := s.appendLog(ctx, r)
	if err != nil {
		return fmt.Errorf("запись журнала: %w", err)
	}
	r.report.LogID = id
	r.report.State = StateDone
	r.log.Info().
		Int64("log_id", id).
		Int("total", r.entry.TotalMessages).
		Int("filtered", r.entry.FilteredMessages).
		Int64("processing_ms", r.entry.ProcessingTimeMS).
		Msg("pipeline: запуск записан в журнал")
	s.notify(ctx, r)
	return nil
}

func (s *Service) appendLog(ctx context.Context, r *run) (int64, error) {
	r.entry.ProcessingTimeMS = s.clock().Sub(r.start).Milliseconds()
	r.entry.CreatedAt = s.clock()
	id, err := s.deps.Store.AppendRunLog(ctx, r.entry)
	if err == nil {
		r.entry.ID = id
	}
	return id, err
}

func (s *Service) notify(ctx context.Context, r *run) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.NotifyRun(ctx, r.entry); err != nil {
		r.log.Warn().Err(err).Msg("pipeline: не удалось отправить уведомление о запуске")
	}
}

func enabledSources(sources []domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(sources))
	for _, src := range sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}
