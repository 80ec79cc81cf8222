package httpserver

import (
	"net/http"
	"strings"

	"nexus-backend/internal/registry"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type meResponse struct {
	User registry.User `json:"user"`
}

func (api *v1API) handleAuth(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auth/")
	switch rest {
	case "register":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleRegister(w, r)
	case "login":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleLogin(w, r)
	case "logout":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleLogout(w, r)
	case "me":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMe(w, r)
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	res, err := api.registry.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, api.logger, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (api *v1API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	res, err := api.registry.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, api.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (api *v1API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := extractTokenFromHeader(r)
	if token == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "missing token")
		return
	}
	if err := api.registry.Logout(r.Context(), token); err != nil {
		writeServiceError(w, api.logger, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (api *v1API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	u, err := api.registry.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, api.logger, "get me", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: u})
}
