// Package events is the publish/subscribe bus shared by every session. Local
// subscribers are invoked synchronously; other processes receive the same
// events through a Broadcaster.
package events

type Type string

const (
	TypeMessage         Type = "message"
	TypeTyping          Type = "typing"
	TypeStatus          Type = "status"
	TypeReaction        Type = "reaction"
	TypeFriendRequest   Type = "friend_request"
	TypeRequestAccepted Type = "request_accepted"
	TypeNewUser         Type = "new_user"

	// TypeStorage carries the generic "storage changed" signal.
	TypeStorage Type = "storage"
)

// Event is one variant of the bus payload union. Audience lists the user ids
// the event concerns; nil means everyone.
type Event interface {
	EventType() Type
	Audience() []string
}

type MessageEvent struct {
	ID         string              `json:"id"`
	ChatID     string              `json:"chatId"`
	SenderID   string              `json:"senderId"`
	Text       string              `json:"text"`
	Timestamp  int64               `json:"timestamp"`
	Status     string              `json:"status"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	IsDeleted  bool                `json:"isDeleted"`
	Recipients []string            `json:"recipients,omitempty"`
}

func (MessageEvent) EventType() Type      { return TypeMessage }
func (e MessageEvent) Audience() []string { return e.Recipients }

type TypingEvent struct {
	ChatID     string   `json:"chatId"`
	UserID     string   `json:"userId"`
	IsTyping   bool     `json:"isTyping"`
	Recipients []string `json:"recipients,omitempty"`
}

func (TypingEvent) EventType() Type      { return TypeTyping }
func (e TypingEvent) Audience() []string { return e.Recipients }

// StatusEvent announces presence and profile changes. ChatID is set when the
// user has just read a chat.
type StatusEvent struct {
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	IsOnline   bool   `json:"isOnline"`
	LastSeenMs int64  `json:"lastSeenMs,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
}

func (StatusEvent) EventType() Type    { return TypeStatus }
func (StatusEvent) Audience() []string { return nil }

type ReactionEvent struct {
	MessageID  string              `json:"messageId"`
	ChatID     string              `json:"chatId"`
	UserID     string              `json:"userId"`
	Emoji      string              `json:"emoji"`
	Reactions  map[string][]string `json:"reactions"`
	Recipients []string            `json:"recipients,omitempty"`
}

func (ReactionEvent) EventType() Type      { return TypeReaction }
func (e ReactionEvent) Audience() []string { return e.Recipients }

type FriendRequestEvent struct {
	ID           string `json:"id"`
	FromID       string `json:"fromId"`
	ToID         string `json:"toId"`
	FromUsername string `json:"fromUsername"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

func (FriendRequestEvent) EventType() Type      { return TypeFriendRequest }
func (e FriendRequestEvent) Audience() []string { return []string{e.FromID, e.ToID} }

type RequestAcceptedEvent struct {
	RequestID string `json:"requestId"`
	FromID    string `json:"fromId"`
	ToID      string `json:"toId"`
	ChatID    string `json:"chatId"`
}

func (RequestAcceptedEvent) EventType() Type      { return TypeRequestAccepted }
func (e RequestAcceptedEvent) Audience() []string { return []string{e.FromID, e.ToID} }

type NewUserEvent struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	AvatarRef  string `json:"avatarRef"`
	StatusText string `json:"statusText"`
	Role       string `json:"role"`
}

func (NewUserEvent) EventType() Type    { return TypeNewUser }
func (NewUserEvent) Audience() []string { return nil }

type StorageChangedEvent struct {
	Key string `json:"key"`
}

func (StorageChangedEvent) EventType() Type    { return TypeStorage }
func (StorageChangedEvent) Audience() []string { return nil }
