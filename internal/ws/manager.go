package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"log/slog"

	"nexus-backend/internal/events"
	"nexus-backend/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

const sendBuffer = 128

const clientOpTimeout = 5 * time.Second

// forwardedTypes are the bus events pushed to connected sessions.
var forwardedTypes = []events.Type{
	events.TypeMessage,
	events.TypeTyping,
	events.TypeStatus,
	events.TypeReaction,
	events.TypeFriendRequest,
	events.TypeRequestAccepted,
	events.TypeNewUser,
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, err error)
}

// TypingSetter handles typing frames sent by clients.
type TypingSetter interface {
	SetTyping(ctx context.Context, caller, chatID string, isTyping bool) error
}

type client struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

// trySend reports false when the buffer is full. Frames for a closed client
// are discarded.
func (c *client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

type Manager struct {
	logger         *slog.Logger
	tokenValidator TokenValidator
	typing         TypingSetter

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewManager(logger *slog.Logger, tokenValidator TokenValidator, typing TypingSetter) *Manager {
	return &Manager{
		logger:         logger.With("component", "ws"),
		tokenValidator: tokenValidator,
		typing:         typing,
		clients:        make(map[*client]struct{}),
	}
}

func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handle)
}

// Attach subscribes the manager to every client-visible event type on bus.
func (m *Manager) Attach(bus *events.Bus) []*events.Subscription {
	subs := make([]*events.Subscription, 0, len(forwardedTypes))
	for _, t := range forwardedTypes {
		subs = append(subs, bus.Subscribe(t, m.Deliver))
	}
	return subs
}

// Deliver pushes e to the sessions of its audience, or to every session when
// the event has none.
func (m *Manager) Deliver(e events.Event) {
	b, err := events.Encode(e, "")
	if err != nil {
		m.logger.Error("ws encode event failed", "error", err, "type", e.EventType())
		return
	}
	if audience := e.Audience(); audience != nil {
		m.SendToUsers(audience, b)
		return
	}
	m.Broadcast(b)
}

func (m *Manager) CloseAll() {
	clients := m.snapshotClients()
	for _, c := range clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		m.untrack(c)
		c.close()
	}
}

func (m *Manager) Broadcast(frame []byte) {
	for _, c := range m.snapshotClients() {
		m.enqueue(c, frame)
	}
}

func (m *Manager) SendToUsers(userIDs []string, frame []byte) {
	if len(userIDs) == 0 {
		return
	}

	userSet := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		userSet[id] = struct{}{}
	}

	for _, c := range m.snapshotClients() {
		if _, ok := userSet[c.userID]; !ok {
			continue
		}
		m.enqueue(c, frame)
	}
}

func (m *Manager) enqueue(c *client, frame []byte) {
	if c.trySend(frame) {
		return
	}
	m.logger.Warn("ws slow client dropped", "userID", c.userID)
	m.untrack(c)
	c.close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := extractToken(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	userID, err := m.tokenValidator.ValidateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	m.track(c)
	defer m.untrack(c)
	defer c.close()

	m.logger.Info("ws connected", "remoteAddr", r.RemoteAddr, "userID", userID)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.writePump(c, r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("ws disconnected", "remoteAddr", r.RemoteAddr, "userID", userID, "error", err)
			return
		}
		m.handleClientMessage(c, msg)
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

func (m *Manager) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Info("ws write failed", "remoteAddr", remoteAddr, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (m *Manager) snapshotClients() []*client {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

// ConnectedUsers reports how many sessions each user has open.
func (m *Manager) ConnectedUsers() map[string]int {
	out := make(map[string]int)
	for _, c := range m.snapshotClients() {
		out[c.userID]++
	}
	return out
}

func (m *Manager) track(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
	metrics.WSConnections.Inc()
}

func (m *Manager) untrack(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c]; !ok {
		return
	}
	delete(m.clients, c)
	metrics.WSConnections.Dec()
}

type typingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// handleClientMessage accepts {"type":"typing","payload":{...}} frames.
// Anything else is ignored.
func (m *Manager) handleClientMessage(c *client, msg []byte) {
	var f events.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return
	}
	if f.Type != events.TypeTyping || m.typing == nil {
		return
	}

	var p typingPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.ChatID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientOpTimeout)
	defer cancel()
	if err := m.typing.SetTyping(ctx, c.userID, p.ChatID, p.IsTyping); err != nil {
		m.logger.Debug("ws typing rejected", "userID", c.userID, "chatID", p.ChatID, "error", err)
	}
}
