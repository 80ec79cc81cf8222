package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown event type")

// Frame is the wire form shared by the broadcast channel and websocket
// sessions. Origin identifies the publishing bus so it can drop its own echo.
type Frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
}

func Encode(e Event, origin string) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.EventType(), err)
	}
	return json.Marshal(Frame{Type: e.EventType(), Payload: payload, Origin: origin})
}

// Decode parses a frame and its payload into the matching Event variant.
func Decode(data []byte) (Event, string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	e, err := DecodePayload(f.Type, f.Payload)
	if err != nil {
		return nil, "", err
	}
	return e, f.Origin, nil
}

func DecodePayload(t Type, payload json.RawMessage) (Event, error) {
	var (
		e   Event
		err error
	)
	switch t {
	case TypeMessage:
		var v MessageEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeTyping:
		var v TypingEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeStatus:
		var v StatusEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeReaction:
		var v ReactionEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeFriendRequest:
		var v FriendRequestEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeRequestAccepted:
		var v RequestAcceptedEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeNewUser:
		var v NewUserEvent
		err = json.Unmarshal(payload, &v)
		e = v
	case TypeStorage:
		var v StorageChangedEvent
		err = json.Unmarshal(payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return e, nil
}
