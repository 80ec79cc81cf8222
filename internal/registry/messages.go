package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"nexus-backend/internal/assistant"
	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

// GetMessages returns the messages of a chat in timestamp order.
func (s *Service) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	if _, ok := findChat(s.chats(ctx), chatID); !ok {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}

	out := make([]Message, 0)
	for _, m := range s.messages(ctx) {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// SendMessage appends m to its chat. The sender is trusted as given; only the
// chat's existence is checked. Id, timestamp and status are filled in when
// unset.
func (s *Service) SendMessage(ctx context.Context, m Message) (Message, error) {
	if _, err := s.requireUser(ctx, m.SenderID); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(m.Text) == "" {
		return Message{}, fmt.Errorf("%w: message text required", ErrInvalidInput)
	}
	chat, ok := findChat(s.chats(ctx), m.ChatID)
	if !ok {
		return Message{}, fmt.Errorf("%w: chat %s", ErrNotFound, m.ChatID)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = s.nowMs()
	}
	if m.Status == "" {
		m.Status = MessageSent
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	m.IsDeleted = false

	if err := s.appendMessage(ctx, m); err != nil {
		return Message{}, err
	}
	s.bus.Publish(ctx, messageEvent(m, chat))

	s.maybeAutoReply(ctx, chat, m)
	return m, nil
}

func (s *Service) appendMessage(ctx context.Context, m Message) error {
	_, err := storage.Update(ctx, s.store, storage.KeyMessages, func(msgs []Message) ([]Message, error) {
		for _, existing := range msgs {
			if existing.ID == m.ID {
				return nil, fmt.Errorf("%w: message id %s already used", ErrInvalidInput, m.ID)
			}
		}
		return append(msgs, m), nil
	})
	return err
}

// ToggleReaction adds caller to the emoji's reactors, or removes them if
// already present. Emojis left without reactors are dropped.
func (s *Service) ToggleReaction(ctx context.Context, caller, messageID, emoji string) (Message, error) {
	if !isReactionEmoji(emoji) {
		return Message{}, fmt.Errorf("%w: unsupported reaction %q", ErrInvalidInput, emoji)
	}
	if _, err := s.requireUser(ctx, caller); err != nil {
		return Message{}, err
	}

	var updated Message
	if _, err := storage.Update(ctx, s.store, storage.KeyMessages, func(msgs []Message) ([]Message, error) {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].IsDeleted {
				return nil, fmt.Errorf("%w: message %s is deleted", ErrInvalidInput, messageID)
			}
			msgs[i].Reactions = toggleReactor(msgs[i].Reactions, emoji, caller)
			updated = msgs[i]
			return msgs, nil
		}
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}); err != nil {
		return Message{}, err
	}

	chat, _ := findChat(s.chats(ctx), updated.ChatID)
	s.bus.Publish(ctx, events.ReactionEvent{
		MessageID:  updated.ID,
		ChatID:     updated.ChatID,
		UserID:     caller,
		Emoji:      emoji,
		Reactions:  updated.Reactions,
		Recipients: recipients(chat),
	})
	return updated, nil
}

func toggleReactor(reactions map[string][]string, emoji, userID string) map[string][]string {
	next := make(map[string][]string, len(reactions)+1)
	for k, v := range reactions {
		next[k] = v
	}

	users := next[emoji]
	kept := make([]string, 0, len(users)+1)
	removed := false
	for _, u := range users {
		if u == userID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	if !removed {
		kept = append(kept, userID)
	}
	if len(kept) == 0 {
		delete(next, emoji)
	} else {
		next[emoji] = kept
	}
	return next
}

func isReactionEmoji(emoji string) bool {
	for _, e := range ReactionEmojis {
		if e == emoji {
			return true
		}
	}
	return false
}

// DeleteMessage soft-deletes a message; only its sender may do so. The
// record stays with its text replaced.
func (s *Service) DeleteMessage(ctx context.Context, caller, messageID string) (Message, error) {
	if _, err := s.requireUser(ctx, caller); err != nil {
		return Message{}, err
	}

	var deleted Message
	changed := false
	if _, err := storage.Update(ctx, s.store, storage.KeyMessages, func(msgs []Message) ([]Message, error) {
		changed = false
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].SenderID != caller {
				return nil, fmt.Errorf("%w: only the sender can delete a message", ErrForbidden)
			}
			if msgs[i].IsDeleted {
				deleted = msgs[i]
				return nil, storage.ErrNoChange
			}
			msgs[i].IsDeleted = true
			msgs[i].Text = DeletedMessageText
			deleted, changed = msgs[i], true
			return msgs, nil
		}
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}); err != nil {
		return Message{}, err
	}

	if changed {
		chat, _ := findChat(s.chats(ctx), deleted.ChatID)
		s.bus.Publish(ctx, messageEvent(deleted, chat))
	}
	return deleted, nil
}

func messageEvent(m Message, c Chat) events.MessageEvent {
	return events.MessageEvent{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		Status:     string(m.Status),
		Reactions:  m.Reactions,
		IsDeleted:  m.IsDeleted,
		Recipients: recipients(c),
	}
}

// maybeAutoReply answers on behalf of a system user when a member writes to
// one. The reply is produced in the background; Wait blocks until it lands.
func (s *Service) maybeAutoReply(ctx context.Context, chat Chat, m Message) {
	if chat.Kind != ChatIndividual {
		return
	}
	users := s.users(ctx)
	sender, ok := findUser(users, m.SenderID)
	if !ok || sender.Role == RoleSystem {
		return
	}
	bot, ok := findUser(users, chat.other(m.SenderID))
	if !ok || bot.ID != AssistantUserID {
		return
	}

	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), assistantDeadline)
		defer cancel()
		s.autoReply(rctx, chat, bot, m)
	}()
}

func (s *Service) autoReply(ctx context.Context, chat Chat, bot User, prompt Message) {
	s.bus.Publish(ctx, events.TypingEvent{ChatID: chat.ID, UserID: bot.ID, IsTyping: true, Recipients: recipients(chat)})
	defer s.bus.Publish(ctx, events.TypingEvent{ChatID: chat.ID, UserID: bot.ID, IsTyping: false, Recipients: recipients(chat)})

	history := s.recentHistory(ctx, chat.ID, prompt.ID, bot.ID)
	text := strings.TrimSpace(s.responder.Reply(ctx, prompt.Text, history))
	if text == "" {
		text = assistant.FallbackReply
	}

	reply := Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		SenderID:  bot.ID,
		Text:      text,
		Timestamp: s.nowMs(),
		Status:    MessageRead,
		Reactions: map[string][]string{},
	}
	if reply.Timestamp <= prompt.Timestamp {
		reply.Timestamp = prompt.Timestamp + 1
	}
	if err := s.appendMessage(ctx, reply); err != nil {
		s.logger.Error("store assistant reply failed", "chatID", chat.ID, "error", err)
		return
	}
	s.bus.Publish(ctx, messageEvent(reply, chat))
}

// recentHistory returns the last messages before the prompt, oldest first.
func (s *Service) recentHistory(ctx context.Context, chatID, promptID, botID string) []assistant.Turn {
	msgs, err := s.GetMessages(ctx, chatID)
	if err != nil {
		return nil
	}
	turns := make([]assistant.Turn, 0, assistantHistory)
	for _, m := range msgs {
		if m.ID == promptID || m.IsDeleted {
			continue
		}
		speaker := assistant.SpeakerOther
		if m.SenderID == botID {
			speaker = assistant.SpeakerSelf
		}
		turns = append(turns, assistant.Turn{Speaker: speaker, Text: m.Text})
	}
	if len(turns) > assistantHistory {
		turns = turns[len(turns)-assistantHistory:]
	}
	return turns
}
