package fetch

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
)

type fakePlatform struct {
	history   map[string][]domain.RawMessage // от новых к старым
	listErr   error
	ackErr    error
	acks      []int64
	requested []*int64
}

func (f *fakePlatform) Connect(context.Context) error { return nil }
func (f *fakePlatform) Disconnect() error             { return nil }

func (f *fakePlatform) ListMessagesSince(_ context.Context, sourceID string, cursor *int64) iter.Seq2[domain.RawMessage, error] {
	f.requested = append(f.requested, cursor)
	return func(yield func(domain.RawMessage, error) bool) {
		if f.listErr != nil {
			yield(domain.RawMessage{}, f.listErr)
			return
		}
		for _, m := range f.history[sourceID] {
			// Платформа возвращает и сам курсор, как это делает min_id в Telegram.
			if cursor != nil && m.MessageID < *cursor {
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (f *fakePlatform) Acknowledge(_ context.Context, _ string, upTo int64) error {
	f.acks = append(f.acks, upTo)
	return f.ackErr
}

type fakeStore struct {
	cursors  map[string]int64
	advanced int
	logs     []domain.RunLogEntry
}

func newFakeStore() *fakeStore { return &fakeStore{cursors: map[string]int64{}} }

func (s *fakeStore) GetCursor(_ context.Context, id string) (int64, bool, error) {
	v, ok := s.cursors[id]
	return v, ok, nil
}

func (s *fakeStore) AdvanceCursor(_ context.Context, id string, messageID int64, _ string) error {
	s.advanced++
	s.cursors[id] = messageID
	return nil
}

func (s *fakeStore) AppendRunLog(_ context.Context, e domain.RunLogEntry) (int64, error) {
	s.logs = append(s.logs, e)
	return int64(len(s.logs)), nil
}

func (s *fakeStore) CountSuccessfulRuns(context.Context, time.Time) (int, error) { return 0, nil }
func (s *fakeStore) ListRecentRuns(context.Context, time.Time) ([]domain.RunLogEntry, error) {
	return s.logs, nil
}

var now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func at(id int64, age time.Duration, text string) domain.RawMessage {
	return domain.RawMessage{MessageID: id, SourceID: "chat", Text: text, Timestamp: now.Add(-age)}
}

func ids(messages []domain.RawMessage) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.MessageID)
	}
	return out
}

func TestFetchNewInitialWindow(t *testing.T) {
	platform := &fakePlatform{history: map[string][]domain.RawMessage{"chat": {
		at(10, time.Hour, "свежее сообщение"),
		at(9, 2*time.Hour, ""),
		at(8, 23*time.Hour, "ещё в окне"),
		at(7, 25*time.Hour, "уже за окном"),
		at(6, time.Hour, "старый id, но попадается после границы"),
	}}}
	store := newFakeStore()
	svc := NewService(platform, store, zerolog.Nop(), WithClock(func() time.Time { return now }))

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat", Name: "Chat"}, false)
	if res.Err != nil {
		t.Fatalf("не ожидали ошибку: %v", res.Err)
	}
	if diff := cmp.Diff([]int64{10, 8}, ids(res.Messages)); diff != "" {
		t.Fatalf("сообщения (-want +got):\n%s", diff)
	}
	if res.Cursor != 10 || store.cursors["chat"] != 10 {
		t.Fatalf("ожидали курсор 10, получили %d / %d", res.Cursor, store.cursors["chat"])
	}
	if diff := cmp.Diff([]int64{10}, platform.acks); diff != "" {
		t.Fatalf("подтверждения (-want +got):\n%s", diff)
	}
	if platform.requested[0] != nil {
		t.Fatalf("первый запуск не должен передавать курсор")
	}
}

func TestFetchNewSinceCursorExcludesCursor(t *testing.T) {
	platform := &fakePlatform{history: map[string][]domain.RawMessage{"chat": {
		at(42, time.Minute, "новое"),
		at(41, 48*time.Hour, "старое, но после курсора"),
		at(40, 72*time.Hour, "уже обработано"),
	}}}
	store := newFakeStore()
	store.cursors["chat"] = 40
	svc := NewService(platform, store, zerolog.Nop(), WithClock(func() time.Time { return now }))

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, false)
	if res.Err != nil {
		t.Fatalf("не ожидали ошибку: %v", res.Err)
	}
	if diff := cmp.Diff([]int64{42, 41}, ids(res.Messages)); diff != "" {
		t.Fatalf("сообщения (-want +got):\n%s", diff)
	}
	for _, m := range res.Messages {
		if m.MessageID <= 40 {
			t.Fatalf("получили сообщение с id <= курсора: %d", m.MessageID)
		}
	}
	if store.cursors["chat"] != 42 {
		t.Fatalf("ожидали курсор 42, получили %d", store.cursors["chat"])
	}
}

func TestFetchNewNoMessagesLeavesCursor(t *testing.T) {
	platform := &fakePlatform{history: map[string][]domain.RawMessage{"chat": {at(40, time.Hour, "обработано")}}}
	store := newFakeStore()
	store.cursors["chat"] = 40
	svc := NewService(platform, store, zerolog.Nop())

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, false)
	if res.Err != nil || len(res.Messages) != 0 {
		t.Fatalf("ожидали пустой результат без ошибки: %+v", res)
	}
	if len(platform.acks) != 0 || store.advanced != 0 {
		t.Fatalf("не ожидали побочных эффектов: acks=%v advanced=%d", platform.acks, store.advanced)
	}
}

func TestFetchNewDryRunHasNoSideEffects(t *testing.T) {
	platform := &fakePlatform{history: map[string][]domain.RawMessage{"chat": {at(3, time.Hour, "сообщение")}}}
	store := newFakeStore()
	svc := NewService(platform, store, zerolog.Nop(), WithClock(func() time.Time { return now }))

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, true)
	if len(res.Messages) != 1 || res.Cursor != 3 {
		t.Fatalf("ожидали одно сообщение и вычисленный курсор: %+v", res)
	}
	if len(platform.acks) != 0 || store.advanced != 0 {
		t.Fatalf("dry-run не должен подтверждать и сдвигать курсор")
	}
}

func TestFetchNewAcknowledgeFailureIsSwallowed(t *testing.T) {
	platform := &fakePlatform{
		history: map[string][]domain.RawMessage{"chat": {at(5, time.Hour, "сообщение")}},
		ackErr:  errors.New("flood wait"),
	}
	store := newFakeStore()
	svc := NewService(platform, store, zerolog.Nop(), WithClock(func() time.Time { return now }))

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, false)
	if res.Err != nil {
		t.Fatalf("ошибка подтверждения не должна прерывать шаг: %v", res.Err)
	}
	if store.cursors["chat"] != 5 {
		t.Fatalf("курсор должен сдвинуться несмотря на ошибку подтверждения")
	}
}

func TestFetchNewListErrorIsReturned(t *testing.T) {
	platform := &fakePlatform{listErr: errors.New("channel private")}
	svc := NewService(platform, newFakeStore(), zerolog.Nop())

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, false)
	if res.Err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if len(res.Messages) != 0 {
		t.Fatalf("при ошибке сообщений быть не должно")
	}
}

func TestFetchNewKeepsWhitespaceOnlyText(t *testing.T) {
	platform := &fakePlatform{history: map[string][]domain.RawMessage{"chat": {
		at(12, time.Minute, "   "),
		at(11, 2*time.Minute, "обычный текст сообщения"),
		at(10, 3*time.Minute, ""),
	}}}
	store := newFakeStore()
	store.cursors["chat"] = 9
	svc := NewService(platform, store, zerolog.Nop(), WithClock(func() time.Time { return now }))

	res := svc.FetchNew(context.Background(), domain.Source{ID: "chat"}, true)
	if res.Err != nil {
		t.Fatalf("не ожидали ошибку: %v", res.Err)
	}
	if diff := cmp.Diff([]int64{12, 11}, ids(res.Messages)); diff != "" {
		t.Fatalf("сообщение из пробелов должно дойти до фильтра (-want +got):\n%s", diff)
	}
	if res.Cursor != 12 {
		t.Fatalf("ожидали курсор 12, получили %d", res.Cursor)
	}
}
