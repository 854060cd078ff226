package gdocs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"

	"tg-collector/internal/domain"
)

// Scope права на документы.
const Scope = docs.DocumentsScope

// HTTPClient возвращает авторизованный клиент. Сервисный аккаунт используется напрямую,
// для OAuth-клиента нужен токен, сохранённый командой google-auth.
func HTTPClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: файл учётных данных Google: %v", domain.ErrConfig, err)
	}

	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &probe)
	if probe.Type == "service_account" {
		creds, err := google.CredentialsFromJSON(ctx, data, Scope)
		if err != nil {
			return nil, fmt.Errorf("gdocs: сервисный аккаунт: %w", err)
		}
		return oauth2.NewClient(ctx, creds.TokenSource), nil
	}

	cfg, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("gdocs: OAuth-клиент: %w", err)
	}
	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: токен Google не найден, выполните google-auth: %v", domain.ErrNotAuthorized, err)
	}
	src := &savingTokenSource{
		base: cfg.TokenSource(ctx, token),
		path: tokenPath,
		last: token.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// savingTokenSource сохраняет обновлённый токен на диск.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		_ = SaveToken(s.path, tok)
	}
	return tok, nil
}

// LoadToken читает токен из JSON-файла.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveToken записывает токен с правами только для владельца.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Authorize проводит установленное приложение через OAuth: открывает локальный
// приёмник кода, печатает ссылку и обменивает код на токен.
func Authorize(ctx context.Context, credentialsPath string, out io.Writer) (*oauth2.Token, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: файл учётных данных Google: %v", domain.ErrConfig, err)
	}
	cfg, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("gdocs: OAuth-клиент: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("gdocs: локальный приёмник: %w", err)
	}
	defer ln.Close()
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			report(errs, errors.New("gdocs: неверный state в ответе OAuth"))
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "no code", http.StatusBadRequest)
			report(errs, fmt.Errorf("gdocs: OAuth отклонён: %s", r.URL.Query().Get("error")))
			return
		}
		_, _ = io.WriteString(w, "Authorization complete, you can close this tab.")
		select {
		case codes <- code:
		default:
		}
	})}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	fmt.Fprintf(out, "Откройте ссылку в браузере и разрешите доступ:\n\n%s\n\n", cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errs:
		return nil, err
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("gdocs: обмен кода: %w", err)
		}
		return tok, nil
	}
}

func report(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
