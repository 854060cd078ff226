package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

const (
	dateLayout = "2006-01-02"
	// Фиксированная ширина, чтобы строки сравнивались как время.
	stampLayout = "2006-01-02T15:04:05.000000Z"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS source_cursors (
	source_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	last_seen_message_id INTEGER NOT NULL,
	last_processed_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_date TEXT NOT NULL,
	total_messages INTEGER NOT NULL DEFAULT 0,
	filtered_messages INTEGER NOT NULL DEFAULT 0,
	themes_extracted INTEGER,
	document_id TEXT NOT NULL DEFAULT '',
	document_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_logs_date_status ON run_logs(execution_date, status);
CREATE INDEX IF NOT EXISTS idx_run_logs_created_at ON run_logs(created_at);

CREATE TABLE IF NOT EXISTS mtproto_sessions (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLite хранит состояние в локальном файле.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.StateStore   = (*SQLite)(nil)
	_ domain.SessionStore = (*SQLite)(nil)
)

// NewSQLite создаёт хранилище и применяет схему.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite: применение схемы: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close закрывает базу.
func (s *SQLite) Close() error { return s.db.Close() }

// Ping проверяет доступность базы.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) stamp() string { return s.now().UTC().Format(stampLayout) }

// GetCursor возвращает курсор источника; ok=false если источник ещё не читался.
func (s *SQLite) GetCursor(ctx context.Context, sourceID string) (int64, bool, error) {
	var id int64
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT last_seen_message_id FROM source_cursors WHERE source_id = ?`, sourceID).Scan(&id)
	metrics.ObserveNetworkRequest("sqlite", "source_cursors_get", "source_cursors", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// AdvanceCursor записывает курсор. Значение меньше сохранённого отклоняется.
func (s *SQLite) AdvanceCursor(ctx context.Context, sourceID string, messageID int64, displayName string) error {
	ts := s.stamp()
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO source_cursors (source_id, display_name, last_seen_message_id, last_processed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id) DO UPDATE SET
	display_name = excluded.display_name,
	last_seen_message_id = excluded.last_seen_message_id,
	last_processed_at = excluded.last_processed_at,
	updated_at = excluded.updated_at
WHERE excluded.last_seen_message_id >= source_cursors.last_seen_message_id
`, sourceID, displayName, messageID, ts, ts, ts)
	metrics.ObserveNetworkRequest("sqlite", "source_cursors_advance", "source_cursors", start, err)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s -> %d", domain.ErrCursorRegression, sourceID, messageID)
	}
	return nil
}

// ListCursors возвращает все курсоры.
func (s *SQLite) ListCursors(ctx context.Context) ([]domain.SourceCursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, display_name, last_seen_message_id, last_processed_at, created_at, updated_at
FROM source_cursors ORDER BY source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SourceCursor
	for rows.Next() {
		var (
			c                          domain.SourceCursor
			processed, created, update string
		)
		if err := rows.Scan(&c.SourceID, &c.DisplayName, &c.LastSeenMessageID, &processed, &created, &update); err != nil {
			return nil, err
		}
		c.LastProcessedAt, _ = time.Parse(stampLayout, processed)
		c.CreatedAt, _ = time.Parse(stampLayout, created)
		c.UpdatedAt, _ = time.Parse(stampLayout, update)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendRunLog добавляет запись журнала и возвращает её идентификатор.
func (s *SQLite) AppendRunLog(ctx context.Context, entry domain.RunLogEntry) (int64, error) {
	created := entry.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var themes sql.NullInt64
	if entry.ThemesExtracted != nil {
		themes = sql.NullInt64{Int64: int64(*entry.ThemesExtracted), Valid: true}
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO run_logs (execution_date, total_messages, filtered_messages, themes_extracted,
	document_id, document_url, status, error_message, processing_time_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, entry.ExecutionDate.Format(dateLayout), entry.TotalMessages, entry.FilteredMessages, themes,
		entry.DocumentID, entry.DocumentURL, string(entry.Status), entry.ErrorMessage, entry.ProcessingTimeMS,
		created.UTC().Format(stampLayout))
	metrics.ObserveNetworkRequest("sqlite", "run_logs_append", "run_logs", start, err)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CountSuccessfulRuns считает успешные запуски за календарную дату.
func (s *SQLite) CountSuccessfulRuns(ctx context.Context, date time.Time) (int, error) {
	var n int
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_logs WHERE execution_date = ? AND status = ?`,
		date.Format(dateLayout), string(domain.RunStatusSuccess)).Scan(&n)
	metrics.ObserveNetworkRequest("sqlite", "run_logs_count", "run_logs", start, err)
	return n, err
}

// ListRecentRuns возвращает запуски, созданные не раньше since, от новых к старым.
func (s *SQLite) ListRecentRuns(ctx context.Context, since time.Time) ([]domain.RunLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, execution_date, total_messages, filtered_messages, themes_extracted,
	document_id, document_url, status, error_message, processing_time_ms, created_at
FROM run_logs
WHERE created_at >= ?
ORDER BY created_at DESC, id DESC
`, since.UTC().Format(stampLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunLogEntry
	for rows.Next() {
		var (
			e             domain.RunLogEntry
			date, created string
			status        string
			themes        sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &date, &e.TotalMessages, &e.FilteredMessages, &themes,
			&e.DocumentID, &e.DocumentURL, &status, &e.ErrorMessage, &e.ProcessingTimeMS, &created); err != nil {
			return nil, err
		}
		e.Status = domain.RunStatus(status)
		e.ExecutionDate, _ = time.Parse(dateLayout, date)
		e.CreatedAt, _ = time.Parse(stampLayout, created)
		if themes.Valid {
			v := int(themes.Int64)
			e.ThemesExtracted = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (s *SQLite) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		name = "default"
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM mtproto_sessions WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (s *SQLite) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	if name == "" {
		name = "default"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
`, name, append([]byte(nil), data...), s.stamp())
	return err
}
