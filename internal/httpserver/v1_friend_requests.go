package httpserver

import (
	"net/http"
	"strings"

	"nexus-backend/internal/registry"
)

type createFriendRequestRequest struct {
	ToID string `json:"toId"`
}

type friendRequestsResponse struct {
	Requests []registry.FriendRequest `json:"requests"`
}

type friendRequestResponse struct {
	Request registry.FriendRequest `json:"request"`
}

func (api *v1API) handleFriendRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		reqs, err := api.registry.GetPendingRequests(r.Context(), userID)
		if err != nil {
			writeServiceError(w, api.logger, "list friend requests", err)
			return
		}
		if reqs == nil {
			reqs = []registry.FriendRequest{}
		}
		writeJSON(w, http.StatusOK, friendRequestsResponse{Requests: reqs})
	case http.MethodPost:
		var req createFriendRequestRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAPIError(w, ErrCodeValidation, "invalid JSON body")
			return
		}
		fr, err := api.registry.SendFriendRequest(r.Context(), userID, strings.TrimSpace(req.ToID))
		if err != nil {
			writeServiceError(w, api.logger, "send friend request", err)
			return
		}
		writeJSON(w, http.StatusCreated, friendRequestResponse{Request: fr})
	default:
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	}
}

func (api *v1API) handleFriendRequestSubroutes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/friend-requests/"))
	if len(parts) != 2 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}

	var decision registry.Decision
	switch parts[1] {
	case "accept":
		decision = registry.DecisionAccept
	case "decline":
		decision = registry.DecisionDecline
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	res, err := api.registry.RespondToRequest(r.Context(), userID, parts[0], decision)
	if err != nil {
		writeServiceError(w, api.logger, "respond to friend request", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
