package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tg-collector/internal/domain"
)

// AppConfig описывает конфигурацию сборщика.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"prod"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	Timezone      string `envconfig:"TIMEZONE" default:"Asia/Tokyo"`
	ExecutionTime string `envconfig:"EXECUTION_TIME" default:"09:00"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`

	SourcesFile   string        `envconfig:"SOURCES_FILE" default:"config/target_chats.yaml"`
	DailyQuota    int           `envconfig:"DAILY_QUOTA" default:"20"`
	InitialWindow time.Duration `envconfig:"INITIAL_WINDOW" default:"24h"`

	Telegram struct {
		APIID       int    `envconfig:"TELEGRAM_API_ID"`
		APIHash     string `envconfig:"TELEGRAM_API_HASH"`
		Phone       string `envconfig:"TELEGRAM_PHONE_NUMBER"`
		SessionName string `envconfig:"TELEGRAM_SESSION_NAME" default:"default"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"5"`
	} `envconfig:""`

	AI struct {
		Provider    string        `envconfig:"AI_PROVIDER" default:"gemini"`
		GeminiKey   string        `envconfig:"GEMINI_API_KEY"`
		GeminiModel string        `envconfig:"GEMINI_MODEL" default:"gemini-flash-latest"`
		OpenAIKey   string        `envconfig:"OPENAI_API_KEY"`
		OpenAIURL   string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
		OpenAIModel string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		MaxAttempts int           `envconfig:"AI_MAX_ATTEMPTS" default:"3"`
		RetryDelay  time.Duration `envconfig:"AI_RETRY_DELAY" default:"1s"`
		Timeout     time.Duration `envconfig:"AI_TIMEOUT" default:"5m"`
	} `envconfig:""`

	Google struct {
		CredentialsPath string `envconfig:"GOOGLE_CREDENTIALS_PATH" default:"./credentials/google_credentials.json"`
		TokenPath       string `envconfig:"GOOGLE_TOKEN_PATH" default:"./credentials/google_token.json"`
		DocumentID      string `envconfig:"GOOGLE_DOCS_DOCUMENT_ID"`
	} `envconfig:""`

	Storage struct {
		StateDBPath string `envconfig:"STATE_DB_PATH" default:"data/state.db"`
		PGDSN       string `envconfig:"PG_DSN"`
		RedisAddr   string `envconfig:"REDIS_ADDR"`
	} `envconfig:""`

	Backup struct {
		Dir           string `envconfig:"BACKUP_DIR" default:"data/markdown_backup"`
		RetentionDays int    `envconfig:"BACKUP_RETENTION_DAYS" default:"30"`
	} `envconfig:""`

	Notify struct {
		BotToken  string `envconfig:"TG_BOT_TOKEN"`
		ChatID    int64  `envconfig:"TG_NOTIFY_CHAT_ID"`
		AMQPURL   string `envconfig:"AMQP_URL"`
		AMQPQueue string `envconfig:"AMQP_QUEUE" default:"collector_runs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return cfg, nil
}

// Location возвращает часовой пояс запусков.
func (c AppConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.Local, nil
	}
	normalized, ok := normalizeTimezone(name)
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный часовой пояс %q", domain.ErrConfig, name)
	}
	return time.LoadLocation(normalized)
}

// normalizeTimezone принимает имена вида "asia/tokyo" или "America/New York".
func normalizeTimezone(raw string) (string, bool) {
	candidate := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, true
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece != "" {
					pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
				}
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, true
	}
	return "", false
}

// Validate проверяет обязательные для рабочего запуска переменные.
func (c AppConfig) Validate() error {
	var missing []string
	if c.Telegram.APIID == 0 {
		missing = append(missing, "TELEGRAM_API_ID")
	}
	if c.Telegram.APIHash == "" {
		missing = append(missing, "TELEGRAM_API_HASH")
	}
	if c.Telegram.Phone == "" {
		missing = append(missing, "TELEGRAM_PHONE_NUMBER")
	}
	switch strings.ToLower(c.AI.Provider) {
	case "gemini", "":
		if c.AI.GeminiKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "openai":
		if c.AI.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("%w: неизвестный AI_PROVIDER %q", domain.ErrConfig, c.AI.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заданы переменные окружения: %s", domain.ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}
