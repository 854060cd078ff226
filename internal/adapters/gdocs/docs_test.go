package gdocs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

type docsServer struct {
	mu      sync.Mutex
	batches map[string][]*docs.Request
	endIdx  int64
}

func (s *docsServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/documents"):
			var doc docs.Document
			_ = json.NewDecoder(r.Body).Decode(&doc)
			_ = json.NewEncoder(w).Encode(docs.Document{DocumentId: "new-doc", Title: doc.Title})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), ":batchUpdate")
			var req docs.BatchUpdateDocumentRequest
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("разбор batchUpdate: %v", err)
			}
			s.batches[id] = req.Requests
			_ = json.NewEncoder(w).Encode(docs.BatchUpdateDocumentResponse{DocumentId: id})
		case r.Method == http.MethodGet:
			id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
			_ = json.NewEncoder(w).Encode(docs.Document{DocumentId: id, Title: "Digest " + id, Body: &docs.Body{Content: []*docs.StructuralElement{
				{EndIndex: 1}, {StartIndex: 1, EndIndex: s.endIdx},
			}}})
		default:
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestHost(t *testing.T, endIdx int64) (*Host, *docsServer) {
	t.Helper()
	state := &docsServer{batches: map[string][]*docs.Request{}, endIdx: endIdx}
	srv := httptest.NewServer(state.handler(t))
	t.Cleanup(srv.Close)
	host, err := NewHost(context.Background(), srv.Client(), zerolog.Nop(), option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return host, state
}

func TestCreateDocumentInsertsText(t *testing.T) {
	host, state := newTestHost(t, 0)

	doc, err := host.CreateDocument(context.Background(), "Telegram Messages - 2026-10-19", "# Digest\n")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ID != "new-doc" || doc.URL != "https://docs.google.com/document/d/new-doc/edit" {
		t.Fatalf("неожиданный документ: %+v", doc)
	}
	reqs := state.batches["new-doc"]
	if len(reqs) != 1 || reqs[0].InsertText == nil || reqs[0].InsertText.Text != "# Digest\n" || reqs[0].InsertText.Location.Index != 1 {
		t.Fatalf("ожидали одну вставку текста: %+v", reqs)
	}
}

func TestUpdateDocumentReplacesBody(t *testing.T) {
	host, state := newTestHost(t, 120)

	doc, err := host.UpdateDocument(context.Background(), "fixed", "ignored title", "new body")
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if doc.ID != "fixed" {
		t.Fatalf("неожиданный документ: %+v", doc)
	}
	reqs := state.batches["fixed"]
	if len(reqs) != 2 || reqs[0].DeleteContentRange == nil || reqs[1].InsertText == nil {
		t.Fatalf("ожидали удаление и вставку: %+v", reqs)
	}
	r := reqs[0].DeleteContentRange.Range
	if r.StartIndex != 1 || r.EndIndex != 119 {
		t.Fatalf("неожиданный диапазон удаления: %+v", r)
	}
}

func TestUpdateEmptyDocumentOnlyInserts(t *testing.T) {
	host, state := newTestHost(t, 2)

	if _, err := host.UpdateDocument(context.Background(), "empty", "t", "text"); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if reqs := state.batches["empty"]; len(reqs) != 1 || reqs[0].InsertText == nil {
		t.Fatalf("пустой документ: ожидали только вставку: %+v", reqs)
	}
}

func TestCheckReadsDocument(t *testing.T) {
	host, state := newTestHost(t, 10)

	title, err := host.Check(context.Background(), "fixed")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if title != "Digest fixed" {
		t.Fatalf("неожиданный заголовок: %q", title)
	}
	if len(state.batches) != 0 {
		t.Fatalf("проверка не должна менять документ")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials", "google_token.json")
	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	if err := SaveToken(path, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(want.Expiry) {
		t.Fatalf("токен не совпадает: %+v", got)
	}
}
