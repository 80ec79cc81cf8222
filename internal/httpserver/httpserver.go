package httpserver

import (
	"context"
	"net/http"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexus-backend/internal/registry"
	"nexus-backend/internal/ws"
)

type Readiness interface {
	Ready(ctx context.Context) error
}

type Registry interface {
	Register(ctx context.Context, username, password string) (registry.AuthResult, error)
	Login(ctx context.Context, username, password string) (registry.AuthResult, error)
	Logout(ctx context.Context, token string) error
	ValidateToken(ctx context.Context, token string) (string, error)

	GetUser(ctx context.Context, id string) (registry.User, error)
	SearchUsers(ctx context.Context, caller, query string) ([]registry.User, error)
	UpdateProfile(ctx context.Context, caller string, upd registry.ProfileUpdate) (registry.User, error)

	SendFriendRequest(ctx context.Context, caller, toID string) (registry.FriendRequest, error)
	GetPendingRequests(ctx context.Context, caller string) ([]registry.FriendRequest, error)
	RespondToRequest(ctx context.Context, caller, requestID string, decision registry.Decision) (registry.RespondResult, error)

	CreateChat(ctx context.Context, caller, targetID string) (registry.Chat, bool, error)
	GetChat(ctx context.Context, caller, chatID string) (registry.Chat, error)
	GetChats(ctx context.Context, caller string) ([]registry.ChatView, error)
	RemoveChat(ctx context.Context, caller, chatID string) error
	MarkRead(ctx context.Context, caller, chatID string) (int, error)
	SetTyping(ctx context.Context, caller, chatID string, isTyping bool) error

	GetMessages(ctx context.Context, chatID string) ([]registry.Message, error)
	SendMessage(ctx context.Context, m registry.Message) (registry.Message, error)
	ToggleReaction(ctx context.Context, caller, messageID, emoji string) (registry.Message, error)
	DeleteMessage(ctx context.Context, caller, messageID string) (registry.Message, error)
}

type HandlerOptions struct {
	AuthRateRPS   float64
	AuthRateBurst int
	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
}

func NewHandler(logger *slog.Logger, reg Registry, readiness Readiness, wsManager *ws.Manager, opts HandlerOptions) (http.Handler, error) {
	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	api := newV1API(logger, reg)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := readiness.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/ws", wsManager.Handler())
	mux.HandleFunc("/v1/auth/", api.handleAuth)
	mux.HandleFunc("/v1/users", api.handleUsers)
	mux.HandleFunc("/v1/users/", api.handleUsers)
	mux.HandleFunc("/v1/friend-requests", api.handleFriendRequests)
	mux.HandleFunc("/v1/friend-requests/", api.handleFriendRequestSubroutes)
	mux.HandleFunc("/v1/chats", api.handleChats)
	mux.HandleFunc("/v1/chats/", api.handleChatSubroutes)
	mux.HandleFunc("/v1/messages/", api.handleMessageSubroutes)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		rateLimitMiddleware(newLimiterPool(opts.AuthRateRPS, opts.AuthRateBurst), proxies),
		authMiddleware(reg),
	), nil
}
