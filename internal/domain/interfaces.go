package domain

import (
	"context"
	"iter"
	"time"
)

// StateStore хранит курсоры источников и журнал запусков.
type StateStore interface {
	GetCursor(ctx context.Context, sourceID string) (int64, bool, error)
	AdvanceCursor(ctx context.Context, sourceID string, messageID int64, displayName string) error
	AppendRunLog(ctx context.Context, entry RunLogEntry) (int64, error)
	CountSuccessfulRuns(ctx context.Context, date time.Time) (int, error)
	ListRecentRuns(ctx context.Context, since time.Time) ([]RunLogEntry, error)
}

// SessionStore хранит MTProto-сессию.
type SessionStore interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// SourcePlatform клиент платформы сообщений.
type SourcePlatform interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// ListMessagesSince отдаёт сообщения от новых к старым. При cursor == nil
	// выдаёт историю без нижней границы, вызывающий сам прекращает чтение.
	ListMessagesSince(ctx context.Context, sourceID string, cursor *int64) iter.Seq2[RawMessage, error]
	Acknowledge(ctx context.Context, sourceID string, upTo int64) error
}

// Transformer генеративная модель, переписывающая текст.
type Transformer interface {
	Transform(ctx context.Context, prompt string) (string, error)
}

// DocumentHost публикует документы.
type DocumentHost interface {
	CreateDocument(ctx context.Context, title, text string) (Document, error)
	UpdateDocument(ctx context.Context, id, title, text string) (Document, error)
}

// BackupWriter сохраняет локальную копию документа.
type BackupWriter interface {
	Save(text, filename string) (string, error)
}

// RunNotifier сообщает о результате запуска.
type RunNotifier interface {
	NotifyRun(ctx context.Context, entry RunLogEntry) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}
