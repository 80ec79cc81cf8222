package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"nexus-backend/internal/registry"
)

type ErrorCode string

const (
	ErrCodeValidation                ErrorCode = "VALIDATION_ERROR"
	ErrCodeUsernameExists            ErrorCode = "USERNAME_EXISTS"
	ErrCodeInvalidCredentials        ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid              ErrorCode = "TOKEN_INVALID"
	ErrCodeFriendRequestExists       ErrorCode = "FRIEND_REQUEST_EXISTS"
	ErrCodeFriendRequestInvalidState ErrorCode = "FRIEND_REQUEST_INVALID_STATE"
	ErrCodeCannotAddSelf             ErrorCode = "CANNOT_ADD_SELF"
	ErrCodeForbidden                 ErrorCode = "FORBIDDEN"
	ErrCodeConflict                  ErrorCode = "CONFLICT"
	ErrCodeRateLimited               ErrorCode = "RATE_LIMITED"
	ErrCodeInternal                  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed          ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound                  ErrorCode = "NOT_FOUND"
)

var errorHTTPStatus = map[ErrorCode]int{
	ErrCodeValidation:                http.StatusBadRequest,
	ErrCodeUsernameExists:            http.StatusConflict,
	ErrCodeInvalidCredentials:        http.StatusUnauthorized,
	ErrCodeTokenInvalid:              http.StatusUnauthorized,
	ErrCodeFriendRequestExists:       http.StatusConflict,
	ErrCodeFriendRequestInvalidState: http.StatusConflict,
	ErrCodeCannotAddSelf:             http.StatusBadRequest,
	ErrCodeForbidden:                 http.StatusForbidden,
	ErrCodeConflict:                  http.StatusConflict,
	ErrCodeRateLimited:               http.StatusTooManyRequests,
	ErrCodeInternal:                  http.StatusInternalServerError,
	ErrCodeMethodNotAllowed:          http.StatusMethodNotAllowed,
	ErrCodeNotFound:                  http.StatusNotFound,
}

func httpStatusForCode(code ErrorCode) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// registryErrorCodes is checked in order; the first match wins.
var registryErrorCodes = []struct {
	err  error
	code ErrorCode
}{
	{registry.ErrInvalidInput, ErrCodeValidation},
	{registry.ErrDuplicateUsername, ErrCodeUsernameExists},
	{registry.ErrInvalidCredentials, ErrCodeInvalidCredentials},
	{registry.ErrAuthRequired, ErrCodeTokenInvalid},
	{registry.ErrDuplicateRequest, ErrCodeFriendRequestExists},
	{registry.ErrRequestResolved, ErrCodeFriendRequestInvalidState},
	{registry.ErrCannotAddSelf, ErrCodeCannotAddSelf},
	{registry.ErrForbidden, ErrCodeForbidden},
	{registry.ErrNotFound, ErrCodeNotFound},
	{registry.ErrConflict, ErrCodeConflict},
}

// writeServiceError maps a registry error to its API error. Anything
// unrecognized is logged and reported as INTERNAL_ERROR.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	for _, m := range registryErrorCodes {
		if errors.Is(err, m.err) {
			writeAPIError(w, m.code, err.Error())
			return
		}
	}
	logger.Error(op+" failed", "error", err)
	writeAPIError(w, ErrCodeInternal, "internal error")
}
