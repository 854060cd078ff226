package mtproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

// Смещение идентификаторов каналов в «помеченном» виде: -100XXXXXXXXXX.
const channelIDShift = 1_000_000_000_000

// PeerKind тип собеседника.
type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerChat    PeerKind = "chat"
	PeerChannel PeerKind = "channel"
)

// Peer разрешённый источник с данными для запросов.
type Peer struct {
	Kind       PeerKind `json:"kind"`
	ID         int64    `json:"id"`
	AccessHash int64    `json:"access_hash"`
	Title      string   `json:"title"`
	Username   string   `json:"username,omitempty"`
}

// Input возвращает InputPeer для запросов истории.
func (p Peer) Input() tg.InputPeerClass {
	switch p.Kind {
	case PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
	case PeerChat:
		return &tg.InputPeerChat{ChatID: p.ID}
	default:
		return &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
	}
}

// MarkedID идентификатор в формате Bot API: каналы -100..., группы -..., пользователи как есть.
func (p Peer) MarkedID() int64 {
	switch p.Kind {
	case PeerChannel:
		return -(channelIDShift + p.ID)
	case PeerChat:
		return -p.ID
	default:
		return p.ID
	}
}

// parseMarkedID разбирает числовой идентификатор источника.
func parseMarkedID(raw string) (PeerKind, int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", 0, err
	}
	switch {
	case id <= -channelIDShift:
		return PeerChannel, -id - channelIDShift, nil
	case id < 0:
		return PeerChat, -id, nil
	case id > 0:
		return PeerUser, id, nil
	}
	return "", 0, fmt.Errorf("нулевой идентификатор")
}

// usernameOf возвращает имя пользователя без @, если источник задан именем.
func usernameOf(sourceID string) (string, bool) {
	s := strings.TrimSpace(sourceID)
	s = strings.TrimPrefix(s, "https://t.me/")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	if s == "" {
		return "", false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return "", false
	}
	return s, true
}

func peerFromChat(chat tg.ChatClass) (Peer, bool) {
	switch c := chat.(type) {
	case *tg.Channel:
		return Peer{Kind: PeerChannel, ID: c.ID, AccessHash: c.AccessHash, Title: c.Title, Username: c.Username}, true
	case *tg.ChannelForbidden:
		return Peer{Kind: PeerChannel, ID: c.ID, AccessHash: c.AccessHash, Title: c.Title}, true
	case *tg.Chat:
		return Peer{Kind: PeerChat, ID: c.ID, Title: c.Title}, true
	case *tg.ChatForbidden:
		return Peer{Kind: PeerChat, ID: c.ID, Title: c.Title}, true
	}
	return Peer{}, false
}

func peerFromUser(user tg.UserClass) (Peer, bool) {
	u, ok := user.(*tg.User)
	if !ok {
		return Peer{}, false
	}
	return Peer{Kind: PeerUser, ID: u.ID, AccessHash: u.AccessHash, Title: userName(u), Username: u.Username}, true
}

func userName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

// entities индекс пользователей и чатов из ответа API.
type entities struct {
	users map[int64]*tg.User
	chats map[int64]Peer
}

func newEntities(users []tg.UserClass, chats []tg.ChatClass) entities {
	e := entities{users: make(map[int64]*tg.User, len(users)), chats: make(map[int64]Peer, len(chats))}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			e.users[user.ID] = user
		}
	}
	for _, c := range chats {
		if p, ok := peerFromChat(c); ok {
			e.chats[p.ID] = p
		}
	}
	return e
}

func (e entities) peer(p tg.PeerClass) (Peer, bool) {
	switch v := p.(type) {
	case *tg.PeerUser:
		if u, ok := e.users[v.UserID]; ok {
			return peerFromUser(u)
		}
	case *tg.PeerChat:
		if c, ok := e.chats[v.ChatID]; ok {
			return c, true
		}
	case *tg.PeerChannel:
		if c, ok := e.chats[v.ChannelID]; ok {
			return c, true
		}
	}
	return Peer{}, false
}

// senderName имя отправителя; пустая строка, если отправитель не указан.
func (e entities) senderName(from tg.PeerClass) string {
	if from == nil {
		return ""
	}
	if p, ok := e.peer(from); ok {
		return p.Title
	}
	return ""
}
