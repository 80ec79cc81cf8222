package registry

import (
	"errors"

	"nexus-backend/internal/storage"
)

var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAuthRequired       = errors.New("authentication required")
	ErrDuplicateRequest   = errors.New("friend request already pending")
	ErrNotFound           = errors.New("not found")
	ErrRequestResolved    = errors.New("friend request already resolved")
	ErrCannotAddSelf      = errors.New("cannot add yourself")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("not allowed")

	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrConflict       = storage.ErrConflict
)

type Role string

const (
	RoleMember Role = "member"
	RoleSystem Role = "system"
)

type ChatKind string

const (
	ChatIndividual ChatKind = "individual"
	ChatGroup      ChatKind = "group"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

type Decision string

const (
	DecisionAccept  Decision = "accepted"
	DecisionDecline Decision = "declined"
)

const (
	DeletedMessageText = "This message was deleted"
	DefaultStatusText  = "Hey! I am new here."
	defaultAvatarURL   = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

// ReactionEmojis is the closed set of reactions a message accepts.
var ReactionEmojis = []string{"❤️", "👍", "😂", "😮", "😢", "🔥"}

type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	CredentialHash string `json:"credentialHash,omitempty"`
	AvatarRef      string `json:"avatarRef"`
	StatusText     string `json:"statusText"`
	IsOnline       bool   `json:"isOnline"`
	LastSeenMs     int64  `json:"lastSeenMs"`
	Role           Role   `json:"role"`
	CreatedAtMs    int64  `json:"createdAtMs"`
}

type Chat struct {
	ID           string   `json:"id"`
	Kind         ChatKind `json:"kind"`
	Participants []string `json:"participants"`
	CreatedAtMs  int64    `json:"createdAtMs"`
}

// ChatView is a chat as seen by one participant. Everything about the other
// participant and the unread count is resolved when the view is built.
type ChatView struct {
	Chat
	OtherID     string   `json:"otherId"`
	Name        string   `json:"name"`
	AvatarRef   string   `json:"avatarRef"`
	IsOnline    bool     `json:"isOnline"`
	UnreadCount int      `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

type Message struct {
	ID        string              `json:"id"`
	ChatID    string              `json:"chatId"`
	SenderID  string              `json:"senderId"`
	Text      string              `json:"text"`
	Timestamp int64               `json:"timestamp"`
	Status    MessageStatus       `json:"status"`
	Reactions map[string][]string `json:"reactions"`
	IsDeleted bool                `json:"isDeleted"`
}

type FriendRequest struct {
	ID           string        `json:"id"`
	FromID       string        `json:"fromId"`
	ToID         string        `json:"toId"`
	Status       RequestStatus `json:"status"`
	Timestamp    int64         `json:"timestamp"`
	FromUsername string        `json:"fromUsername"`
}

// SessionRecord backs one issued token; deleting it revokes the token.
type SessionRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	CreatedAtMs int64  `json:"createdAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

type AuthResult struct {
	User        User   `json:"user"`
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expiresAt"`
}

type ProfileUpdate struct {
	Username   *string `json:"username,omitempty"`
	AvatarRef  *string `json:"avatarRef,omitempty"`
	StatusText *string `json:"statusText,omitempty"`
}

type RespondResult struct {
	Request FriendRequest `json:"request"`
	Chat    *Chat         `json:"chat,omitempty"`
}
