package httpserver

import (
	"net/http"
	"strings"

	"nexus-backend/internal/registry"
)

type createChatRequest struct {
	TargetID string `json:"targetId"`
}

type createChatResponse struct {
	Chat    registry.Chat `json:"chat"`
	Created bool          `json:"created"`
}

type chatsResponse struct {
	Chats []registry.ChatView `json:"chats"`
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

func (api *v1API) handleChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		chats, err := api.registry.GetChats(r.Context(), userID)
		if err != nil {
			writeServiceError(w, api.logger, "list chats", err)
			return
		}
		if chats == nil {
			chats = []registry.ChatView{}
		}
		writeJSON(w, http.StatusOK, chatsResponse{Chats: chats})
	case http.MethodPost:
		var req createChatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAPIError(w, ErrCodeValidation, "invalid JSON body")
			return
		}
		chat, created, err := api.registry.CreateChat(r.Context(), userID, strings.TrimSpace(req.TargetID))
		if err != nil {
			writeServiceError(w, api.logger, "create chat", err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, createChatResponse{Chat: chat, Created: created})
	default:
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	}
}

func (api *v1API) handleChatSubroutes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/chats/"))
	if len(parts) == 0 || len(parts) > 2 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}
	chatID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		if err := api.registry.RemoveChat(r.Context(), userID, chatID); err != nil {
			writeServiceError(w, api.logger, "remove chat", err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
		return
	}

	switch parts[1] {
	case "read":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		n, err := api.registry.MarkRead(r.Context(), userID, chatID)
		if err != nil {
			writeServiceError(w, api.logger, "mark read", err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{Updated: n})
	case "typing":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		var req typingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAPIError(w, ErrCodeValidation, "invalid JSON body")
			return
		}
		if err := api.registry.SetTyping(r.Context(), userID, chatID, req.IsTyping); err != nil {
			writeServiceError(w, api.logger, "set typing", err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case "messages":
		switch r.Method {
		case http.MethodGet:
			api.handleListMessages(w, r, userID, chatID)
		case http.MethodPost:
			api.handleSendMessage(w, r, userID, chatID)
		default:
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		}
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}
