package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"nexus-backend/internal/assistant"
	"nexus-backend/internal/events"
)

func newChat(t *testing.T, env testEnv) (alice, bob AuthResult, chat Chat) {
	t.Helper()
	alice = mustRegister(t, env.svc, "alice", "pw1")
	bob = mustRegister(t, env.svc, "bob", "pw2")
	chat, _, err := env.svc.CreateChat(context.Background(), alice.User.ID, bob.User.ID)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	return alice, bob, chat
}

func TestSendMessage_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, _, chat := newChat(t, env)

	var published []events.MessageEvent
	env.bus.Subscribe(events.TypeMessage, func(e events.Event) { published = append(published, e.(events.MessageEvent)) })

	in := Message{ID: "m-1", ChatID: chat.ID, SenderID: alice.User.ID, Text: "hello bob", Timestamp: 1700000000000}
	sent, err := env.svc.SendMessage(ctx, in)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs, err := env.svc.GetMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("GetMessages() = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.ID != in.ID || got.ChatID != in.ChatID || got.SenderID != in.SenderID || got.Text != in.Text || got.Timestamp != in.Timestamp {
		t.Fatalf("stored message = %+v, want %+v", got, in)
	}
	if got.Status != MessageSent || got.IsDeleted {
		t.Fatalf("server fields = %+v", got)
	}
	if !reflect.DeepEqual(got, sent) {
		t.Fatalf("stored %+v != returned %+v", got, sent)
	}

	if len(published) != 1 || published[0].ID != in.ID || len(published[0].Audience()) != 2 {
		t.Fatalf("message events = %+v", published)
	}
}

func TestSendMessage_PreservesTextExactly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, _, chat := newChat(t, env)

	for i, text := range []string{"  indented code\n", "\ttabbed  ", "line one\nline two\n"} {
		in := Message{ID: fmt.Sprintf("m-%d", i), ChatID: chat.ID, SenderID: alice.User.ID, Text: text}
		sent, err := env.svc.SendMessage(ctx, in)
		if err != nil {
			t.Fatalf("SendMessage(%q) error = %v", text, err)
		}
		if sent.Text != text {
			t.Fatalf("returned text = %q, want %q", sent.Text, text)
		}
	}

	msgs, err := env.svc.GetMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	want := map[string]string{"m-0": "  indented code\n", "m-1": "\ttabbed  ", "m-2": "line one\nline two\n"}
	if len(msgs) != len(want) {
		t.Fatalf("GetMessages() = %d, want %d", len(msgs), len(want))
	}
	for _, m := range msgs {
		if m.Text != want[m.ID] {
			t.Fatalf("stored text for %s = %q, want %q", m.ID, m.Text, want[m.ID])
		}
	}
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, _, chat := newChat(t, env)

	if _, err := env.svc.SendMessage(ctx, Message{ChatID: "nope", SenderID: alice.User.ID, Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SendMessage(unknown chat) error = %v, want ErrNotFound", err)
	}
	if _, err := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("SendMessage(blank) error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, Text: "x"}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("SendMessage(no sender) error = %v, want ErrAuthRequired", err)
	}
	if _, err := env.svc.GetMessages(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMessages(unknown chat) error = %v, want ErrNotFound", err)
	}
}

func TestToggleReaction(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, bob, chat := newChat(t, env)
	m, _ := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: "lol"})

	var reactions []events.ReactionEvent
	env.bus.Subscribe(events.TypeReaction, func(e events.Event) { reactions = append(reactions, e.(events.ReactionEvent)) })

	got, err := env.svc.ToggleReaction(ctx, bob.User.ID, m.ID, "😂")
	if err != nil {
		t.Fatalf("ToggleReaction() error = %v", err)
	}
	if !reflect.DeepEqual(got.Reactions, map[string][]string{"😂": {bob.User.ID}}) {
		t.Fatalf("reactions = %v", got.Reactions)
	}

	got, _ = env.svc.ToggleReaction(ctx, alice.User.ID, m.ID, "😂")
	if len(got.Reactions["😂"]) != 2 {
		t.Fatalf("reactions = %v, want two reactors", got.Reactions)
	}

	got, _ = env.svc.ToggleReaction(ctx, bob.User.ID, m.ID, "😂")
	got, _ = env.svc.ToggleReaction(ctx, alice.User.ID, m.ID, "😂")
	if len(got.Reactions) != 0 {
		t.Fatalf("reactions = %v, want empty after toggling off", got.Reactions)
	}
	if len(reactions) != 4 {
		t.Fatalf("reaction events = %d, want 4", len(reactions))
	}

	if _, err := env.svc.ToggleReaction(ctx, bob.User.ID, m.ID, "🤷"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ToggleReaction(unsupported) error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.svc.ToggleReaction(ctx, bob.User.ID, "nope", "🔥"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ToggleReaction(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteMessage_SoftDeleteBySender(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, bob, chat := newChat(t, env)
	m, _ := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: "oops"})

	if _, err := env.svc.DeleteMessage(ctx, bob.User.ID, m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DeleteMessage(not sender) error = %v, want ErrForbidden", err)
	}

	got, err := env.svc.DeleteMessage(ctx, alice.User.ID, m.ID)
	if err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if !got.IsDeleted || got.Text != DeletedMessageText {
		t.Fatalf("DeleteMessage() = %+v", got)
	}
	if _, err := env.svc.DeleteMessage(ctx, alice.User.ID, m.ID); err != nil {
		t.Fatalf("DeleteMessage() again error = %v", err)
	}

	msgs, _ := env.svc.GetMessages(ctx, chat.ID)
	if len(msgs) != 1 || !msgs[0].IsDeleted || msgs[0].Text != DeletedMessageText {
		t.Fatalf("messages after delete = %+v", msgs)
	}
	if _, err := env.svc.ToggleReaction(ctx, bob.User.ID, m.ID, "🔥"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ToggleReaction(deleted) error = %v, want ErrInvalidInput", err)
	}
}

type recordingResponder struct {
	mu       sync.Mutex
	prompts  []string
	history  [][]assistant.Turn
	response string
}

func (r *recordingResponder) Reply(_ context.Context, prompt string, history []assistant.Turn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	r.history = append(r.history, history)
	return r.response
}

func TestSendMessage_AssistantAutoReply(t *testing.T) {
	responder := &recordingResponder{response: "Hi! 👋"}
	env := newTestEnv(t, responder)
	ctx := context.Background()

	if err := env.svc.SeedSystemUsers(ctx); err != nil {
		t.Fatalf("SeedSystemUsers() error = %v", err)
	}
	alice := mustRegister(t, env.svc, "alice", "pw1")
	chat, _, err := env.svc.CreateChat(ctx, alice.User.ID, AssistantUserID)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	var mu sync.Mutex
	var typing []bool
	env.bus.Subscribe(events.TypeTyping, func(e events.Event) {
		mu.Lock()
		typing = append(typing, e.(events.TypingEvent).IsTyping)
		mu.Unlock()
	})

	for _, text := range []string{"first", "second"} {
		if _, err := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: text}); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		env.svc.Wait()
	}

	msgs, _ := env.svc.GetMessages(ctx, chat.ID)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	reply := msgs[3]
	if reply.SenderID != AssistantUserID || reply.Text != "Hi! 👋" || reply.Status != MessageRead {
		t.Fatalf("reply = %+v", reply)
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if !reflect.DeepEqual(responder.prompts, []string{"first", "second"}) {
		t.Fatalf("prompts = %v", responder.prompts)
	}
	wantHistory := []assistant.Turn{
		{Speaker: assistant.SpeakerOther, Text: "first"},
		{Speaker: assistant.SpeakerSelf, Text: "Hi! 👋"},
	}
	if !reflect.DeepEqual(responder.history[1], wantHistory) {
		t.Fatalf("history = %+v, want %+v", responder.history[1], wantHistory)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(typing, []bool{true, false, true, false}) {
		t.Fatalf("typing events = %v", typing)
	}
}

func TestSendMessage_NoAutoReplyBetweenMembers(t *testing.T) {
	responder := &recordingResponder{response: "nope"}
	env := newTestEnv(t, responder)
	ctx := context.Background()
	alice, _, chat := newChat(t, env)

	if _, err := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: "hey"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	env.svc.Wait()

	if msgs, _ := env.svc.GetMessages(ctx, chat.ID); len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if len(responder.prompts) != 0 {
		t.Fatalf("responder called %d times, want 0", len(responder.prompts))
	}
}

func TestSendMessage_NoAutoReplyFromOtherSystemUsers(t *testing.T) {
	responder := &recordingResponder{response: "nope"}
	env := newTestEnv(t, responder)
	ctx := context.Background()

	if err := env.svc.SeedSystemUsers(ctx); err != nil {
		t.Fatalf("SeedSystemUsers() error = %v", err)
	}
	alice := mustRegister(t, env.svc, "alice", "pw1")
	chat, _, err := env.svc.CreateChat(ctx, alice.User.ID, "u2")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	if _, err := env.svc.SendMessage(ctx, Message{ChatID: chat.ID, SenderID: alice.User.ID, Text: "hi sarah"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	env.svc.Wait()

	if msgs, _ := env.svc.GetMessages(ctx, chat.ID); len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.prompts) != 0 {
		t.Fatalf("responder called %d times, want 0", len(responder.prompts))
	}
}
