package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/metrics"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS source_cursors (
	source_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	last_seen_message_id BIGINT NOT NULL,
	last_processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_logs (
	id BIGSERIAL PRIMARY KEY,
	execution_date DATE NOT NULL,
	total_messages INTEGER NOT NULL DEFAULT 0,
	filtered_messages INTEGER NOT NULL DEFAULT 0,
	themes_extracted INTEGER,
	document_id TEXT NOT NULL DEFAULT '',
	document_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_logs_date_status ON run_logs(execution_date, status);
CREATE INDEX IF NOT EXISTS idx_run_logs_created_at ON run_logs(created_at);

CREATE TABLE IF NOT EXISTS mtproto_sessions (
	name TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres реализует хранилище состояния на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.StateStore   = (*Postgres)(nil)
	_ domain.SessionStore = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping проверяет доступность базы.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// GetCursor возвращает курсор источника; ok=false если источник ещё не читался.
func (p *Postgres) GetCursor(ctx context.Context, sourceID string) (int64, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT last_seen_message_id FROM source_cursors WHERE source_id = $1`, sourceID).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "source_cursors_get", "source_cursors", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// AdvanceCursor записывает курсор. Значение меньше сохранённого отклоняется.
func (p *Postgres) AdvanceCursor(ctx context.Context, sourceID string, messageID int64, displayName string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO source_cursors (source_id, display_name, last_seen_message_id, last_processed_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (source_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	last_seen_message_id = EXCLUDED.last_seen_message_id,
	last_processed_at = now(),
	updated_at = now()
WHERE EXCLUDED.last_seen_message_id >= source_cursors.last_seen_message_id
`, sourceID, displayName, messageID)
	metrics.ObserveNetworkRequest("postgres", "source_cursors_advance", "source_cursors", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %d", domain.ErrCursorRegression, sourceID, messageID)
	}
	return nil
}

// ListCursors возвращает все курсоры.
func (p *Postgres) ListCursors(ctx context.Context) ([]domain.SourceCursor, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT source_id, display_name, last_seen_message_id, last_processed_at, created_at, updated_at
FROM source_cursors ORDER BY source_id`)
	metrics.ObserveNetworkRequest("postgres", "source_cursors_list", "source_cursors", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SourceCursor
	for rows.Next() {
		var c domain.SourceCursor
		if err := rows.Scan(&c.SourceID, &c.DisplayName, &c.LastSeenMessageID, &c.LastProcessedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendRunLog добавляет запись журнала и возвращает её идентификатор.
func (p *Postgres) AppendRunLog(ctx context.Context, entry domain.RunLogEntry) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO run_logs (execution_date, total_messages, filtered_messages, themes_extracted,
	document_id, document_url, status, error_message, processing_time_ms, created_at)
VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`, entry.ExecutionDate.Format(dateLayout), entry.TotalMessages, entry.FilteredMessages, entry.ThemesExtracted,
		entry.DocumentID, entry.DocumentURL, string(entry.Status), entry.ErrorMessage, entry.ProcessingTimeMS,
		created.UTC()).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "run_logs_append", "run_logs", start, err)
	return id, err
}

// CountSuccessfulRuns считает успешные запуски за календарную дату.
func (p *Postgres) CountSuccessfulRuns(ctx context.Context, date time.Time) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM run_logs WHERE execution_date = $1::date AND status = $2`,
		date.Format(dateLayout), string(domain.RunStatusSuccess)).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "run_logs_count", "run_logs", start, err)
	return n, err
}

// ListRecentRuns возвращает запуски, созданные не раньше since, от новых к старым.
func (p *Postgres) ListRecentRuns(ctx context.Context, since time.Time) ([]domain.RunLogEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, execution_date, total_messages, filtered_messages, themes_extracted,
	document_id, document_url, status, error_message, processing_time_ms, created_at
FROM run_logs
WHERE created_at >= $1
ORDER BY created_at DESC, id DESC
`, since.UTC())
	metrics.ObserveNetworkRequest("postgres", "run_logs_list", "run_logs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunLogEntry
	for rows.Next() {
		var (
			e      domain.RunLogEntry
			status string
			themes *int32
		)
		if err := rows.Scan(&e.ID, &e.ExecutionDate, &e.TotalMessages, &e.FilteredMessages, &themes,
			&e.DocumentID, &e.DocumentURL, &status, &e.ErrorMessage, &e.ProcessingTimeMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.RunStatus(status)
		if themes != nil {
			v := int(*themes)
			e.ThemesExtracted = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}
