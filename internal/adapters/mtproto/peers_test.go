package mtproto

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestParseMarkedID(t *testing.T) {
	cases := []struct {
		raw  string
		kind PeerKind
		id   int64
	}{
		{"-1001234567890", PeerChannel, 1234567890},
		{"-4242", PeerChat, 4242},
		{"777", PeerUser, 777},
	}
	for _, tc := range cases {
		kind, id, err := parseMarkedID(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if kind != tc.kind || id != tc.id {
			t.Fatalf("%s: ожидали %s/%d, получили %s/%d", tc.raw, tc.kind, tc.id, kind, id)
		}
		if got := (Peer{Kind: kind, ID: id}).MarkedID(); got == 0 {
			t.Fatalf("%s: пустой помеченный id", tc.raw)
		}
	}
	if _, _, err := parseMarkedID("0"); err == nil {
		t.Fatalf("ноль не является идентификатором")
	}
}

func TestMarkedIDRoundTrip(t *testing.T) {
	p := Peer{Kind: PeerChannel, ID: 1234567890}
	if p.MarkedID() != -1001234567890 {
		t.Fatalf("неожиданный помеченный id: %d", p.MarkedID())
	}
}

func TestUsernameOf(t *testing.T) {
	for raw, want := range map[string]string{
		"@golang":            "golang",
		"golang_news":        "golang_news",
		"https://t.me/durov": "durov",
		" t.me/telegram ":    "telegram",
	} {
		got, ok := usernameOf(raw)
		if !ok || got != want {
			t.Fatalf("%q: ожидали %q, получили %q ok=%v", raw, want, got, ok)
		}
	}
	for _, raw := range []string{"-1001234", "12345", "@", ""} {
		if _, ok := usernameOf(raw); ok {
			t.Fatalf("%q не должно считаться именем", raw)
		}
	}
}

func TestEntitiesSenderName(t *testing.T) {
	e := newEntities(
		[]tg.UserClass{&tg.User{ID: 1, FirstName: "Ivan", LastName: "Petrov"}, &tg.User{ID: 2, Username: "anon"}},
		[]tg.ChatClass{&tg.Channel{ID: 10, Title: "Go News", AccessHash: 99}},
	)
	if got := e.senderName(&tg.PeerUser{UserID: 1}); got != "Ivan Petrov" {
		t.Fatalf("неожиданное имя: %q", got)
	}
	if got := e.senderName(&tg.PeerUser{UserID: 2}); got != "anon" {
		t.Fatalf("ожидали имя пользователя: %q", got)
	}
	if got := e.senderName(&tg.PeerChannel{ChannelID: 10}); got != "Go News" {
		t.Fatalf("ожидали название канала: %q", got)
	}
	if got := e.senderName(nil); got != "" {
		t.Fatalf("без отправителя имя пустое: %q", got)
	}
	if p, ok := e.peer(&tg.PeerChannel{ChannelID: 10}); !ok || p.AccessHash != 99 {
		t.Fatalf("ожидали access hash канала")
	}
}
