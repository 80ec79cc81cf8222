package storage

import "errors"

// Collection keys. Every collection is one JSON array under its key.
const (
	KeyUsers          = "nexus_users"
	KeyChats          = "nexus_chats"
	KeyMessages       = "nexus_messages"
	KeyFriendRequests = "nexus_friend_requests"
	KeySessions       = "nexus_sessions"
	KeySchemaVersion  = "nexus_schema_version"
)

// KnownCollections lists the keys wiped by a schema version reset.
var KnownCollections = []string{
	KeyUsers,
	KeyChats,
	KeyMessages,
	KeyFriendRequests,
	KeySessions,
}

var (
	ErrNotFound       = errors.New("not found")
	ErrStorageCorrupt = errors.New("storage corrupt")
	ErrConflict       = errors.New("concurrent update conflict")
	// ErrNoChange lets an Update callback finish without writing.
	ErrNoChange = errors.New("no change")
)
