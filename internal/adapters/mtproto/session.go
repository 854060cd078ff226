package mtproto

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"

	"tg-collector/internal/domain"
)

// ErrUnsupportedSession данные сессии не распознаны.
var ErrUnsupportedSession = errors.New("неизвестный формат MTProto-сессии")

// StoreSession хранит сессию gotd в StateStore под заданным именем.
type StoreSession struct {
	store domain.SessionStore
	name  string
}

var _ session.Storage = (*StoreSession)(nil)

// NewStoreSession создаёт хранилище сессии.
func NewStoreSession(store domain.SessionStore, name string) *StoreSession {
	return &StoreSession{store: store, name: name}
}

// LoadSession загружает сессию; session.ErrNotFound означает первый вход.
func (s *StoreSession) LoadSession(ctx context.Context) ([]byte, error) {
	return s.store.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет сессию.
func (s *StoreSession) StoreSession(ctx context.Context, data []byte) error {
	return s.store.StoreMTProtoSession(ctx, s.name, data)
}

// NormalizeSession приводит экспортированную сессию к JSON gotd.
// Поддерживаются JSON gotd, строка Telethon, JSON аккаунта с extra_params
// и выгрузка таблицы sessions Telethon. converted=false если данные уже в формате gotd.
func NormalizeSession(raw []byte) (data []byte, converted bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("%w: пустые данные", ErrUnsupportedSession)
	}

	var probe struct {
		Version int `json:"Version"`
	}
	if json.Unmarshal(trimmed, &probe) == nil && probe.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	for _, convert := range []func([]byte) ([]byte, error){
		fromAccountJSON,
		fromSessionRows,
		fromTelethonString,
	} {
		if out, err := convert(trimmed); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSession
}

func fromAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

func fromSessionRows(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return fromAuthKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, errors.New("нет строк с ключом авторизации")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	value := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if value == "" {
		return nil, errors.New("пустая строка сессии")
	}
	data, err := session.TelethonSession(value)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if len(data.Config.DCOptions) == 0 && data.Addr != "" {
		if host, port, err := splitAddr(data.Addr); err == nil {
			data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
		}
	}
	return encodeSession(*data)
}

func fromAuthKey(dc int, host string, port int, keyHex string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(strings.Trim(strings.TrimSpace(keyHex), "'\""))
	if err != nil {
		return nil, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(keyBytes) != len(key) {
		return nil, fmt.Errorf("auth_key: длина %d байт", len(keyBytes))
	}
	copy(key[:], keyBytes)
	id := key.WithID().ID

	return encodeSession(session.Data{
		Config: session.Config{
			ThisDC:    dc,
			DCOptions: []tg.DCOption{{ID: dc, IPAddress: host, Port: port}},
		},
		DC:        dc,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	return host, port, err
}

func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
