package mtproto

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/session"
)

type memSessions struct {
	data map[string][]byte
}

func (m *memSessions) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	v, ok := m.data[name]
	if !ok {
		return nil, session.ErrNotFound
	}
	return v, nil
}

func (m *memSessions) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	m.data[name] = data
	return nil
}

func TestStoreSessionRoundTrip(t *testing.T) {
	store := &memSessions{data: map[string][]byte{}}
	s := NewStoreSession(store, "main")
	ctx := context.Background()

	if _, err := s.LoadSession(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("ожидали session.ErrNotFound, получили %v", err)
	}
	if err := s.StoreSession(ctx, []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	got, err := s.LoadSession(ctx)
	if err != nil || string(got) != `{"Version":1}` {
		t.Fatalf("неожиданная сессия: %q %v", got, err)
	}
	if _, ok := store.data["main"]; !ok {
		t.Fatalf("сессия должна храниться под своим именем")
	}
}

func TestNormalizeSessionKeepsGotdJSON(t *testing.T) {
	raw := []byte("  {\"Version\":1,\"Data\":{\"DC\":2}}\n")
	out, converted, err := NormalizeSession(raw)
	if err != nil {
		t.Fatalf("NormalizeSession: %v", err)
	}
	if converted {
		t.Fatalf("данные gotd не требуют конвертации")
	}
	if string(out) != `{"Version":1,"Data":{"DC":2}}` {
		t.Fatalf("неожиданный результат: %s", out)
	}
}

func TestNormalizeSessionFromRows(t *testing.T) {
	key := strings.Repeat("ab", 256)
	raw := []byte(`[{"dc_id":2,"server_address":"149.154.167.51","port":443,"auth_key":"` + key + `"}]`)

	out, converted, err := NormalizeSession(raw)
	if err != nil {
		t.Fatalf("NormalizeSession: %v", err)
	}
	if !converted {
		t.Fatalf("ожидали конвертацию")
	}
	var decoded struct {
		Version int
		Data    session.Data
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("разбор результата: %v", err)
	}
	if decoded.Version != 1 || decoded.Data.DC != 2 || decoded.Data.Addr != "149.154.167.51:443" {
		t.Fatalf("неожиданные данные: %+v", decoded)
	}
	if len(decoded.Data.AuthKey) != 256 || len(decoded.Data.AuthKeyID) != 8 {
		t.Fatalf("ключ не перенесён: %d/%d", len(decoded.Data.AuthKey), len(decoded.Data.AuthKeyID))
	}
}

func TestNormalizeSessionRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", `{"foo":"bar"}`, `[{"dc_id":2,"auth_key":"zz"}]`} {
		if _, _, err := NormalizeSession([]byte(raw)); !errors.Is(err, ErrUnsupportedSession) {
			t.Fatalf("%q: ожидали ErrUnsupportedSession, получили %v", raw, err)
		}
	}
}

func TestFromAuthKeyRejectsShortKey(t *testing.T) {
	if _, err := fromAuthKey(2, "127.0.0.1", 443, "abcd"); err == nil {
		t.Fatalf("короткий ключ должен отклоняться")
	}
}
