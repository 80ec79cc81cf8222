package httpserver

import (
	"net/http"
	"strings"

	"nexus-backend/internal/registry"
)

type usersResponse struct {
	Users []registry.User `json:"users"`
}

type userResponse struct {
	User registry.User `json:"user"`
}

func (api *v1API) handleUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users"), "/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		api.handleSearchUsers(w, r, userID)
	case rest == "me" && r.Method == http.MethodPut:
		api.handleUpdateProfile(w, r, userID)
	case rest == "" || rest == "me":
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	default:
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		u, err := api.registry.GetUser(r.Context(), rest)
		if err != nil {
			writeServiceError(w, api.logger, "get user", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse{User: u})
	}
}

func (api *v1API) handleSearchUsers(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := api.registry.SearchUsers(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, api.logger, "search users", err)
		return
	}
	if users == nil {
		users = []registry.User{}
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users})
}

func (api *v1API) handleUpdateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req registry.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}
	u, err := api.registry.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, api.logger, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}
