// Package assistant produces replies for system users. A Responder never
// fails: on any error it answers with FallbackReply.
package assistant

import (
	"context"
	"strings"
)

const (
	FallbackReply = "Sorry, I'm having trouble connecting to my neural net right now. 🤖"

	systemInstruction = "You are Alex, a helpful and friendly chat assistant. Keep responses concise, conversational, and use emojis where appropriate. You are chatting in a messaging app interface."
)

type Speaker string

const (
	SpeakerSelf  Speaker = "self"
	SpeakerOther Speaker = "other"
)

// Turn is one earlier message of the conversation, oldest first. SpeakerSelf
// marks the assistant's own messages.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

type Responder interface {
	Reply(ctx context.Context, prompt string, history []Turn) string
}

// Static answers every prompt with the same text.
type Static struct {
	Text string
}

func (s Static) Reply(_ context.Context, _ string, _ []Turn) string {
	if strings.TrimSpace(s.Text) == "" {
		return FallbackReply
	}
	return s.Text
}
