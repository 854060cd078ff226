package domain

import "time"

// Source описывает настроенный чат или канал Telegram.
type Source struct {
	ID      string
	Name    string
	Enabled bool
}

// DisplayName возвращает имя источника для логов и курсоров.
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// SourceCursor хранит позицию чтения источника.
type SourceCursor struct {
	SourceID          string
	DisplayName       string
	LastSeenMessageID int64
	LastProcessedAt   time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunStatus итоговый статус запуска.
type RunStatus string

const (
	// RunStatusSuccess запуск завершился успешно.
	RunStatusSuccess RunStatus = "SUCCESS"
	// RunStatusFailed запуск прерван ошибкой.
	RunStatusFailed RunStatus = "FAILED"
	// RunStatusPartial часть работы выполнена.
	RunStatusPartial RunStatus = "PARTIAL"
)

// RunLogEntry запись журнала запусков.
type RunLogEntry struct {
	ID               int64
	ExecutionDate    time.Time
	TotalMessages    int
	FilteredMessages int
	ThemesExtracted  *int
	DocumentID       string
	DocumentURL      string
	Status           RunStatus
	ErrorMessage     string
	ProcessingTimeMS int64
	CreatedAt        time.Time
}

// RawMessage сообщение источника до фильтрации. Не сохраняется.
type RawMessage struct {
	MessageID  int64
	SourceID   string
	SourceName string
	SenderName string
	Text       string
	Timestamp  time.Time
}

// FilterConfig настройки фильтра шума.
type FilterConfig struct {
	MinLength       int
	ExcludePatterns []string
}

// Document ссылка на опубликованный документ.
type Document struct {
	ID  string
	URL string
}

// DateOnly отбрасывает время, оставляя календарную дату в той же зоне.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
