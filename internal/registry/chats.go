package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

// CreateChat returns the individual chat between caller and targetID,
// creating it when none exists. created reports which case happened.
func (s *Service) CreateChat(ctx context.Context, caller, targetID string) (chat Chat, created bool, err error) {
	if _, err := s.requireUser(ctx, caller); err != nil {
		return Chat{}, false, err
	}
	if targetID == caller {
		return Chat{}, false, ErrCannotAddSelf
	}
	if _, ok := findUser(s.users(ctx), targetID); !ok {
		return Chat{}, false, fmt.Errorf("%w: user %s", ErrNotFound, targetID)
	}

	fresh := Chat{
		ID:           uuid.NewString(),
		Kind:         ChatIndividual,
		Participants: []string{caller, targetID},
		CreatedAtMs:  s.nowMs(),
	}
	if _, err := storage.Update(ctx, s.store, storage.KeyChats, func(chats []Chat) ([]Chat, error) {
		for _, c := range chats {
			if c.isIndividualBetween(caller, targetID) {
				chat, created = c, false
				return nil, storage.ErrNoChange
			}
		}
		chat, created = fresh, true
		return append(chats, fresh), nil
	}); err != nil {
		return Chat{}, false, err
	}

	if created {
		s.logger.Info("chat created", "chatID", chat.ID, "participants", chat.Participants)
	}
	return chat, created, nil
}

// isIndividualBetween matches only individual chats whose participant set is
// exactly {a, b}.
func (c Chat) isIndividualBetween(a, b string) bool {
	if c.Kind != ChatIndividual || len(c.Participants) != 2 {
		return false
	}
	p, q := c.Participants[0], c.Participants[1]
	return (p == a && q == b) || (p == b && q == a)
}

func (s *Service) GetChat(ctx context.Context, caller, chatID string) (Chat, error) {
	return s.memberChat(ctx, caller, chatID)
}

// GetChats lists the chats caller takes part in, most recently active first.
func (s *Service) GetChats(ctx context.Context, caller string) ([]ChatView, error) {
	if _, err := s.requireUser(ctx, caller); err != nil {
		return nil, err
	}

	users := s.users(ctx)
	msgs := s.messages(ctx)

	views := make([]ChatView, 0)
	for _, c := range s.chats(ctx) {
		if !c.hasParticipant(caller) {
			continue
		}
		view := ChatView{Chat: c, OtherID: c.other(caller), Name: "Unknown User"}
		if other, ok := findUser(users, view.OtherID); ok {
			view.Name = other.Username
			view.AvatarRef = other.AvatarRef
			view.IsOnline = other.IsOnline
		}
		for i := range msgs {
			m := msgs[i]
			if m.ChatID != c.ID {
				continue
			}
			if m.SenderID != caller && m.Status != MessageRead {
				view.UnreadCount++
			}
			if view.LastMessage == nil || m.Timestamp >= view.LastMessage.Timestamp {
				view.LastMessage = &m
			}
		}
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].lastActivity() > views[j].lastActivity()
	})
	return views, nil
}

func (v ChatView) lastActivity() int64 {
	if v.LastMessage != nil {
		return v.LastMessage.Timestamp
	}
	return v.CreatedAtMs
}

// RemoveChat deletes the chat and every message in it.
func (s *Service) RemoveChat(ctx context.Context, caller, chatID string) error {
	if _, err := s.memberChat(ctx, caller, chatID); err != nil {
		return err
	}

	if _, err := storage.Update(ctx, s.store, storage.KeyChats, func(chats []Chat) ([]Chat, error) {
		kept := make([]Chat, 0, len(chats))
		for _, c := range chats {
			if c.ID != chatID {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(chats) {
			return nil, storage.ErrNoChange
		}
		return kept, nil
	}); err != nil {
		return err
	}

	if _, err := storage.Update(ctx, s.store, storage.KeyMessages, func(msgs []Message) ([]Message, error) {
		kept := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if m.ChatID != chatID {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(msgs) {
			return nil, storage.ErrNoChange
		}
		return kept, nil
	}); err != nil {
		return err
	}

	s.logger.Info("chat removed", "chatID", chatID, "userID", caller)
	return nil
}

// MarkRead marks every message the other side sent in the chat as read and
// reports how many changed.
func (s *Service) MarkRead(ctx context.Context, caller, chatID string) (int, error) {
	if _, err := s.memberChat(ctx, caller, chatID); err != nil {
		return 0, err
	}

	changed := 0
	if _, err := storage.Update(ctx, s.store, storage.KeyMessages, func(msgs []Message) ([]Message, error) {
		changed = 0
		for i := range msgs {
			if msgs[i].ChatID == chatID && msgs[i].SenderID != caller && msgs[i].Status != MessageRead {
				msgs[i].Status = MessageRead
				changed++
			}
		}
		if changed == 0 {
			return nil, storage.ErrNoChange
		}
		return msgs, nil
	}); err != nil {
		return 0, err
	}

	if changed > 0 {
		s.bus.Publish(ctx, events.StatusEvent{UserID: caller, IsOnline: true, LastSeenMs: s.nowMs(), ChatID: chatID})
	}
	return changed, nil
}

// SetTyping announces a typing indicator to the chat. Nothing is stored.
func (s *Service) SetTyping(ctx context.Context, caller, chatID string, isTyping bool) error {
	c, err := s.memberChat(ctx, caller, chatID)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, events.TypingEvent{ChatID: c.ID, UserID: caller, IsTyping: isTyping, Recipients: recipients(c)})
	return nil
}
