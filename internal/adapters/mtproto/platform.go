package mtproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
)

const (
	defaultPageSize = 100
	peerCacheTTL    = 24 * time.Hour
	peerCachePrefix = "mtproto:peer:"
)

// Config параметры MTProto-клиента.
type Config struct {
	APIID       int
	APIHash     string
	SessionName string
	GlobalRPS   float64
	PageSize    int
}

// Platform реализует domain.SourcePlatform поверх gotd.
type Platform struct {
	cfg      Config
	sessions domain.SessionStore
	cache    domain.Cache
	log      zerolog.Logger

	mu     sync.Mutex
	client *telegram.Client
	api    *tg.Client
	stop   context.CancelFunc
	done   chan error
	peers  map[string]Peer
}

var _ domain.SourcePlatform = (*Platform)(nil)

// NewPlatform создаёт клиента. cache может быть nil.
func NewPlatform(cfg Config, sessions domain.SessionStore, cache domain.Cache, log zerolog.Logger) *Platform {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "telegram_collector"
	}
	return &Platform{cfg: cfg, sessions: sessions, cache: cache, log: log, peers: map[string]Peer{}}
}

func (p *Platform) newClient() *telegram.Client {
	return telegram.NewClient(p.cfg.APIID, p.cfg.APIHash, telegram.Options{
		SessionStorage: NewStoreSession(p.sessions, p.cfg.SessionName),
		Middlewares:    []telegram.Middleware{newRateLimiter(p.cfg.GlobalRPS, p.log)},
		NoUpdates:      true,
	})
}

// Connect открывает соединение и проверяет авторизацию сессии.
// Соединение живёт до Disconnect.
func (p *Platform) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.api != nil {
		return nil
	}

	client := p.newClient()
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				ready <- err
				return err
			}
			if !status.Authorized {
				ready <- domain.ErrNotAuthorized
				return domain.ErrNotAuthorized
			}
			ready <- nil
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("mtproto: подключение: %w", err)
		}
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("клиент остановился до готовности")
		}
		return fmt.Errorf("mtproto: подключение: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("mtproto: подключение: %w", ctx.Err())
	}

	p.client = client
	p.api = client.API()
	p.stop = cancel
	p.done = done
	p.log.Info().Msg("mtproto: подключено")
	return nil
}

// Disconnect закрывает соединение. Повторный вызов безопасен.
func (p *Platform) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return nil
	}
	p.stop()
	err := <-p.done
	p.client, p.api, p.stop, p.done = nil, nil, nil, nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	p.log.Info().Msg("mtproto: отключено")
	return nil
}

func (p *Platform) rpc() (*tg.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.api == nil {
		return nil, domain.ErrConnection
	}
	return p.api, nil
}

// ListMessagesSince отдаёт сообщения источника от новых к старым. Если cursor задан,
// выдача ограничена сообщениями с идентификатором больше курсора.
func (p *Platform) ListMessagesSince(ctx context.Context, sourceID string, cursor *int64) iter.Seq2[domain.RawMessage, error] {
	return func(yield func(domain.RawMessage, error) bool) {
		api, err := p.rpc()
		if err != nil {
			yield(domain.RawMessage{}, err)
			return
		}
		peer, err := p.resolve(ctx, api, sourceID)
		if err != nil {
			yield(domain.RawMessage{}, err)
			return
		}

		minID := 0
		if cursor != nil {
			minID = int(*cursor)
		}
		offsetID := 0

		for {
			res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer.Input(),
				OffsetID: offsetID,
				MinID:    minID,
				Limit:    p.cfg.PageSize,
			})
			if err != nil {
				yield(domain.RawMessage{}, fmt.Errorf("mtproto: история %s: %w", sourceID, err))
				return
			}
			page, ents, ok := unpackHistory(res)
			if !ok || len(page) == 0 {
				return
			}

			lowest := 0
			for _, m := range page {
				raw, id, ok := toRaw(m, sourceID, peer.Title, ents)
				if id > 0 && (lowest == 0 || id < lowest) {
					lowest = id
				}
				if !ok {
					continue
				}
				if cursor != nil && raw.MessageID <= *cursor {
					return
				}
				if !yield(raw, nil) {
					return
				}
			}
			if len(page) < p.cfg.PageSize || lowest <= 1 || lowest <= minID+1 {
				return
			}
			offsetID = lowest
		}
	}
}

// Acknowledge отмечает сообщения до upTo прочитанными.
func (p *Platform) Acknowledge(ctx context.Context, sourceID string, upTo int64) error {
	api, err := p.rpc()
	if err != nil {
		return err
	}
	peer, err := p.resolve(ctx, api, sourceID)
	if err != nil {
		return err
	}
	if peer.Kind == PeerChannel {
		_, err = api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
			Channel: &tg.InputChannel{ChannelID: peer.ID, AccessHash: peer.AccessHash},
			MaxID:   int(upTo),
		})
	} else {
		_, err = api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{Peer: peer.Input(), MaxID: int(upTo)})
	}
	if err != nil {
		return fmt.Errorf("mtproto: отметка прочтения %s: %w", sourceID, err)
	}
	return nil
}

// Dialog элемент списка диалогов аккаунта.
type Dialog struct {
	Peer
	Unread int
}

// Dialogs возвращает до limit диалогов аккаунта. Используется командой chats.
func (p *Platform) Dialogs(ctx context.Context, limit int) ([]Dialog, error) {
	api, err := p.rpc()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("mtproto: диалоги: %w", err)
	}
	var (
		dialogs []tg.DialogClass
		ents    entities
	)
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, ents = d.Dialogs, newEntities(d.Users, d.Chats)
	case *tg.MessagesDialogsSlice:
		dialogs, ents = d.Dialogs, newEntities(d.Users, d.Chats)
	default:
		return nil, nil
	}

	out := make([]Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		peer, ok := ents.peer(d.GetPeer())
		if !ok {
			continue
		}
		p.remember(ctx, peer)
		unread := 0
		if dlg, ok := d.(*tg.Dialog); ok {
			unread = dlg.UnreadCount
		}
		out = append(out, Dialog{Peer: peer, Unread: unread})
	}
	return out, nil
}

// resolve находит источник по имени или помеченному идентификатору.
// Результаты кэшируются в памяти и во внешнем кэше.
func (p *Platform) resolve(ctx context.Context, api *tg.Client, sourceID string) (Peer, error) {
	key := strings.ToLower(strings.TrimSpace(sourceID))
	p.mu.Lock()
	if peer, ok := p.peers[key]; ok {
		p.mu.Unlock()
		return peer, nil
	}
	p.mu.Unlock()

	if p.cache != nil {
		if data, ok, err := p.cache.Get(ctx, peerCachePrefix+key); err == nil && ok {
			var peer Peer
			if json.Unmarshal(data, &peer) == nil {
				p.store(key, peer)
				return peer, nil
			}
		}
	}

	peer, err := p.lookup(ctx, api, sourceID)
	if err != nil {
		return Peer{}, err
	}
	p.store(key, peer)
	if p.cache != nil {
		if data, err := json.Marshal(peer); err == nil {
			if err := p.cache.Set(ctx, peerCachePrefix+key, data, peerCacheTTL); err != nil {
				p.log.Debug().Err(err).Msg("mtproto: не удалось сохранить источник в кэш")
			}
		}
	}
	return peer, nil
}

func (p *Platform) store(key string, peer Peer) {
	p.mu.Lock()
	p.peers[key] = peer
	p.mu.Unlock()
}

// remember кэширует источник сразу под помеченным идентификатором и именем.
func (p *Platform) remember(ctx context.Context, peer Peer) {
	keys := []string{fmt.Sprint(peer.MarkedID())}
	if peer.Username != "" {
		keys = append(keys, strings.ToLower(peer.Username))
	}
	data, _ := json.Marshal(peer)
	for _, k := range keys {
		p.store(k, peer)
		if p.cache != nil {
			_ = p.cache.Set(ctx, peerCachePrefix+k, data, peerCacheTTL)
		}
	}
}

func (p *Platform) lookup(ctx context.Context, api *tg.Client, sourceID string) (Peer, error) {
	if username, ok := usernameOf(sourceID); ok {
		res, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if err != nil {
			if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
				return Peer{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
			}
			return Peer{}, fmt.Errorf("mtproto: поиск %s: %w", sourceID, err)
		}
		ents := newEntities(res.Users, res.Chats)
		if peer, ok := ents.peer(res.Peer); ok {
			return peer, nil
		}
		return Peer{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
	}

	kind, id, err := parseMarkedID(sourceID)
	if err != nil {
		return Peer{}, fmt.Errorf("%w: %s: %v", domain.ErrSourceNotFound, sourceID, err)
	}
	if kind == PeerChat {
		return Peer{Kind: PeerChat, ID: id, Title: sourceID}, nil
	}
	// Для каналов и пользователей нужен access hash, его даёт список диалогов.
	dialogs, err := p.Dialogs(ctx, 200)
	if err != nil {
		return Peer{}, err
	}
	for _, d := range dialogs {
		if d.Kind == kind && d.ID == id {
			return d.Peer, nil
		}
	}
	return Peer{}, fmt.Errorf("%w: %s нет среди диалогов аккаунта", domain.ErrSourceNotFound, sourceID)
}

func unpackHistory(res tg.MessagesMessagesClass) ([]tg.MessageClass, entities, bool) {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages, newEntities(m.Users, m.Chats), true
	case *tg.MessagesMessagesSlice:
		return m.Messages, newEntities(m.Users, m.Chats), true
	case *tg.MessagesChannelMessages:
		return m.Messages, newEntities(m.Users, m.Chats), true
	}
	return nil, entities{}, false
}

// toRaw переводит сообщение API в RawMessage. Служебные сообщения отдаются
// без текста, отбрасывает их вызывающий.
func toRaw(m tg.MessageClass, sourceID, sourceName string, ents entities) (domain.RawMessage, int, bool) {
	switch v := m.(type) {
	case *tg.Message:
		from, _ := v.GetFromID()
		return domain.RawMessage{
			MessageID:  int64(v.ID),
			SourceID:   sourceID,
			SourceName: sourceName,
			SenderName: ents.senderName(from),
			Text:       v.Message,
			Timestamp:  time.Unix(int64(v.Date), 0).UTC(),
		}, v.ID, true
	case *tg.MessageService:
		return domain.RawMessage{
			MessageID:  int64(v.ID),
			SourceID:   sourceID,
			SourceName: sourceName,
			Timestamp:  time.Unix(int64(v.Date), 0).UTC(),
		}, v.ID, true
	case *tg.MessageEmpty:
		return domain.RawMessage{}, v.ID, false
	}
	return domain.RawMessage{}, 0, false
}
