package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-collector/internal/adapters/backup"
	"tg-collector/internal/adapters/gdocs"
	"tg-collector/internal/adapters/gemini"
	"tg-collector/internal/adapters/llm"
	"tg-collector/internal/adapters/mtproto"
	"tg-collector/internal/adapters/notify"
	"tg-collector/internal/adapters/repo"
	"tg-collector/internal/domain"
	"tg-collector/internal/infra/cache"
	"tg-collector/internal/infra/config"
	"tg-collector/internal/infra/db"
	"tg-collector/internal/infra/openai"
	"tg-collector/internal/infra/retry"
	"tg-collector/internal/usecase/fetch"
	"tg-collector/internal/usecase/organize"
	"tg-collector/internal/usecase/pipeline"
)

// stateStore хранилище курсоров, журнала и MTProto-сессии.
type stateStore interface {
	domain.StateStore
	domain.SessionStore
	ListCursors(ctx context.Context) ([]domain.SourceCursor, error)
	Ping(ctx context.Context) error
	Close() error
}

// app общие ресурсы команд. Закрываются в обратном порядке.
type app struct {
	cfg     config.AppConfig
	log     zerolog.Logger
	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("collector: ошибка освобождения ресурса")
		}
	}
	a.closers = nil
}

// openStore выбирает Postgres при заданном PG_DSN, иначе локальный SQLite.
func (a *app) openStore(ctx context.Context) (stateStore, error) {
	if dsn := strings.TrimSpace(a.cfg.Storage.PGDSN); dsn != "" {
		pool, err := db.Connect(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store := repo.NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: схема: %w", err)
		}
		a.onClose(store.Close)
		a.log.Debug().Msg("collector: хранилище состояния Postgres")
		return store, nil
	}

	conn, err := db.OpenSQLite(a.cfg.Storage.StateDBPath)
	if err != nil {
		return nil, err
	}
	store, err := repo.NewSQLite(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.onClose(store.Close)
	a.log.Debug().Str("path", a.cfg.Storage.StateDBPath).Msg("collector: хранилище состояния SQLite")
	return store, nil
}

// openCache выбирает Redis при заданном REDIS_ADDR, иначе кэш в памяти процесса.
func (a *app) openCache(ctx context.Context) domain.Cache {
	addr := strings.TrimSpace(a.cfg.Storage.RedisAddr)
	if addr == "" {
		return cache.NewMemory()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	rc := cache.NewRedis(client, "tg-collector:")
	if err := rc.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Str("addr", addr).Msg("collector: Redis недоступен, используется кэш в памяти")
		client.Close()
		return cache.NewMemory()
	}
	a.onClose(client.Close)
	return rc
}

func (a *app) platform(store domain.SessionStore, c domain.Cache) *mtproto.Platform {
	return mtproto.NewPlatform(mtproto.Config{
		APIID:       a.cfg.Telegram.APIID,
		APIHash:     a.cfg.Telegram.APIHash,
		SessionName: a.cfg.Telegram.SessionName,
		GlobalRPS:   float64(a.cfg.Telegram.GlobalRPS),
	}, store, c, a.log.With().Str("component", "mtproto").Logger())
}

// transformer создаёт клиента выбранной генеративной модели.
func (a *app) transformer(ctx context.Context) (domain.Transformer, error) {
	ai := a.cfg.AI
	switch strings.ToLower(ai.Provider) {
	case "openai":
		client := openai.NewClient(ai.OpenAIKey, ai.OpenAIURL, ai.Timeout)
		return llm.NewOpenAI(client, ai.OpenAIModel, ai.Timeout), nil
	default:
		t, err := gemini.New(ctx, ai.GeminiKey, ai.GeminiModel, ai.Timeout)
		if err != nil {
			return nil, err
		}
		a.onClose(t.Close)
		return t, nil
	}
}

func (a *app) documentHost(ctx context.Context) domain.DocumentHost {
	client, err := gdocs.HTTPClient(ctx, a.cfg.Google.CredentialsPath, a.cfg.Google.TokenPath)
	if err != nil {
		a.log.Warn().Err(err).Msg("collector: Google Docs не настроен, документ останется локальным")
		return nil
	}
	host, err := gdocs.NewHost(ctx, client, a.log.With().Str("component", "gdocs").Logger())
	if err != nil {
		a.log.Warn().Err(err).Msg("collector: не удалось создать клиента Google Docs")
		return nil
	}
	return host
}

func (a *app) notifier() domain.RunNotifier {
	var out notify.Multi
	if a.cfg.Notify.BotToken != "" && a.cfg.Notify.ChatID != 0 {
		bot, err := notify.NewBot(a.cfg.Notify.BotToken, a.cfg.Notify.ChatID)
		if err != nil {
			a.log.Warn().Err(err).Msg("collector: уведомления в Telegram отключены")
		} else {
			out = append(out, bot)
		}
	}
	if a.cfg.Notify.AMQPURL != "" {
		pub, err := notify.NewAMQP(a.cfg.Notify.AMQPURL, a.cfg.Notify.AMQPQueue)
		if err != nil {
			a.log.Warn().Err(err).Msg("collector: публикация в RabbitMQ отключена")
		} else {
			a.onClose(pub.Close)
			out = append(out, pub)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type pipelineMode struct {
	dryRun   bool
	testMode bool
}

// buildPipeline собирает конвейер. Модель и публикация создаются только для
// рабочего режима и только при полной конфигурации, иначе запуск остановит Validate.
func (a *app) buildPipeline(ctx context.Context, mode pipelineMode) (*pipeline.Service, stateStore, error) {
	sources, err := config.LoadSources(a.cfg.SourcesFile)
	if err != nil {
		return nil, nil, err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	c := a.openCache(ctx)

	writer, err := backup.NewWriter(a.cfg.Backup.Dir, a.cfg.Backup.RetentionDays, a.log.With().Str("component", "backup").Logger())
	if err != nil {
		return nil, nil, err
	}

	platform := a.platform(store, c)
	deps := pipeline.Deps{
		Store:    store,
		Platform: platform,
		Fetcher: fetch.NewService(platform, store, a.log.With().Str("component", "fetch").Logger(),
			fetch.WithInitialWindow(a.cfg.InitialWindow)),
		Backup: writer,
	}

	if !mode.dryRun && a.cfg.Validate() == nil {
		t, err := a.transformer(ctx)
		if err != nil {
			return nil, nil, err
		}
		policy := retry.Policy{
			MaxAttempts: a.cfg.AI.MaxAttempts,
			BaseDelay:   a.cfg.AI.RetryDelay,
			Multiplier:  2,
			Retryable:   organize.IsTransient,
		}
		deps.Organizer = organize.NewOrganizer(t, policy, a.log.With().Str("component", "organize").Logger())
		if !mode.testMode {
			deps.Host = a.documentHost(ctx)
			deps.Notifier = a.notifier()
		}
	}

	svc := pipeline.NewService(deps, pipeline.Config{
		Sources:    sources.Sources(),
		Filter:     sources.Filter(),
		DailyQuota: a.cfg.DailyQuota,
		DocumentID: a.cfg.Google.DocumentID,
		Location:   loc,
	}, a.log.With().Str("component", "pipeline").Logger())
	return svc, store, nil
}
