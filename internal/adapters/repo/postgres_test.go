package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"tg-collector/internal/domain"
	"tg-collector/internal/infra/db"
)

// Тесты требуют живой Postgres: TEST_PG_DSN=postgres://... go test ./internal/adapters/repo
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN не задан")
	}
	pool, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("подключение: %v", err)
	}
	t.Cleanup(pool.Close)
	store := NewPostgres(pool)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("схема: %v", err)
	}
	return store
}

func TestPostgresCursorIsMonotonic(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	source := "test-" + uuid.NewString()

	if _, ok, err := store.GetCursor(ctx, source); err != nil || ok {
		t.Fatalf("курсора ещё нет: ok=%v err=%v", ok, err)
	}
	if err := store.AdvanceCursor(ctx, source, 10, "Test"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.AdvanceCursor(ctx, source, 10, "Test"); err != nil {
		t.Fatalf("равное значение допустимо: %v", err)
	}
	if err := store.AdvanceCursor(ctx, source, 9, "Test"); !errors.Is(err, domain.ErrCursorRegression) {
		t.Fatalf("ожидали ErrCursorRegression, получили %v", err)
	}
	got, _, _ := store.GetCursor(ctx, source)
	if got != 10 {
		t.Fatalf("ожидали 10, получили %d", got)
	}
}

func TestPostgresRunLog(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	// Дата в далёком будущем, чтобы не пересекаться с реальными записями.
	day := time.Date(2199, 1, 1, 0, 0, 0, 0, time.UTC)

	before, err := store.CountSuccessfulRuns(ctx, day)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	themes := 4
	first, err := store.AppendRunLog(ctx, domain.RunLogEntry{ExecutionDate: day, Status: domain.RunStatusSuccess, ThemesExtracted: &themes})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := store.AppendRunLog(ctx, domain.RunLogEntry{ExecutionDate: day, Status: domain.RunStatusFailed, ErrorMessage: "boom"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second <= first {
		t.Fatalf("идентификаторы должны возрастать: %d, %d", first, second)
	}
	after, err := store.CountSuccessfulRuns(ctx, day)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if after-before != 1 {
		t.Fatalf("ожидали +1 успешный запуск, получили %d", after-before)
	}
}
