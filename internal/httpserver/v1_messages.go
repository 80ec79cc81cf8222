package httpserver

import (
	"net/http"
	"strings"

	"nexus-backend/internal/registry"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type messagesResponse struct {
	Messages []registry.Message `json:"messages"`
}

type messageResponse struct {
	Message registry.Message `json:"message"`
}

func (api *v1API) handleListMessages(w http.ResponseWriter, r *http.Request, userID, chatID string) {
	if _, err := api.registry.GetChat(r.Context(), userID, chatID); err != nil {
		writeServiceError(w, api.logger, "get chat", err)
		return
	}
	msgs, err := api.registry.GetMessages(r.Context(), chatID)
	if err != nil {
		writeServiceError(w, api.logger, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []registry.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (api *v1API) handleSendMessage(w http.ResponseWriter, r *http.Request, userID, chatID string) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}
	if _, err := api.registry.GetChat(r.Context(), userID, chatID); err != nil {
		writeServiceError(w, api.logger, "get chat", err)
		return
	}

	msg, err := api.registry.SendMessage(r.Context(), registry.Message{
		ChatID:   chatID,
		SenderID: userID,
		Text:     req.Text,
	})
	if err != nil {
		writeServiceError(w, api.logger, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

func (api *v1API) handleMessageSubroutes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/messages/"))
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		msg, err := api.registry.DeleteMessage(r.Context(), userID, parts[0])
		if err != nil {
			writeServiceError(w, api.logger, "delete message", err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
	case len(parts) == 2 && parts[1] == "reactions":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		var req reactionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAPIError(w, ErrCodeValidation, "invalid JSON body")
			return
		}
		msg, err := api.registry.ToggleReaction(r.Context(), userID, parts[0], req.Emoji)
		if err != nil {
			writeServiceError(w, api.logger, "toggle reaction", err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}
