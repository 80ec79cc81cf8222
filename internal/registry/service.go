// Package registry implements the messaging domain: accounts, sessions,
// friend requests, chats and messages. Every mutation is a read-modify-write
// on a shared collection followed by an event on the bus.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexus-backend/internal/assistant"
	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

const (
	defaultTokenTTL   = 7 * 24 * time.Hour
	assistantHistory  = 5
	assistantDeadline = 45 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

type Options struct {
	Logger      *slog.Logger
	Store       *storage.Store
	Bus         Publisher
	Responder   assistant.Responder
	TokenSecret []byte
	TokenTTL    time.Duration
	BcryptCost  int
	Now         func() time.Time
}

type Service struct {
	logger     *slog.Logger
	store      *storage.Store
	bus        Publisher
	responder  assistant.Responder
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	now        func() time.Time

	replies sync.WaitGroup
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: store required")
	}
	if opts.Bus == nil {
		return nil, errors.New("registry: bus required")
	}
	if len(opts.TokenSecret) == 0 {
		return nil, errors.New("registry: token secret required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := opts.Responder
	if responder == nil {
		responder = assistant.Static{}
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:     logger.With("component", "registry"),
		store:      opts.Store,
		bus:        opts.Bus,
		responder:  responder,
		secret:     opts.TokenSecret,
		tokenTTL:   ttl,
		bcryptCost: cost,
		now:        now,
	}, nil
}

// Wait blocks until in-flight assistant replies have been delivered.
func (s *Service) Wait() {
	s.replies.Wait()
}

func (s *Service) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *Service) users(ctx context.Context) []User {
	return storage.Read[User](ctx, s.store, storage.KeyUsers)
}

func (s *Service) chats(ctx context.Context) []Chat {
	return storage.Read[Chat](ctx, s.store, storage.KeyChats)
}

func (s *Service) messages(ctx context.Context) []Message {
	return storage.Read[Message](ctx, s.store, storage.KeyMessages)
}

func (s *Service) requests(ctx context.Context) []FriendRequest {
	return storage.Read[FriendRequest](ctx, s.store, storage.KeyFriendRequests)
}

func findUser(users []User, id string) (User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func findChat(chats []Chat, id string) (Chat, bool) {
	for _, c := range chats {
		if c.ID == id {
			return c, true
		}
	}
	return Chat{}, false
}

// requireUser resolves the acting user; an unknown or empty id means the
// caller has no active session.
func (s *Service) requireUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrAuthRequired
	}
	u, ok := findUser(s.users(ctx), id)
	if !ok {
		return User{}, ErrAuthRequired
	}
	return u, nil
}

// memberChat returns the chat only if caller takes part in it.
func (s *Service) memberChat(ctx context.Context, caller, chatID string) (Chat, error) {
	c, ok := findChat(s.chats(ctx), chatID)
	if !ok || !c.hasParticipant(caller) {
		return Chat{}, ErrNotFound
	}
	return c, nil
}

func (c Chat) hasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

func (c Chat) other(id string) string {
	for _, p := range c.Participants {
		if p != id {
			return p
		}
	}
	return ""
}

func (u User) public() User {
	u.CredentialHash = ""
	return u
}

func recipients(c Chat) []string {
	return append([]string(nil), c.Participants...)
}
