package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/exports"
)

// Error codes carried in the "code" field of error bodies.
const (
	CodeValidation         = "validation_error"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeAccountLocked      = "account_locked"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal_error"
)

type errorBody struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps service errors onto HTTP statuses. Internal details are
// logged, never sent.
func writeError(ctx context.Context, w http.ResponseWriter, l logging.Logger, err error) {
	var locked *common.AccountLockedError

	switch {
	case errors.As(err, &locked):
		secs := locked.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusLocked, errorBody{Error: "account locked", Code: CodeAccountLocked, RetryAfterSeconds: secs})
	case errors.Is(err, common.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: CodeValidation})
	case errors.Is(err, common.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "token expired", Code: CodeTokenExpired})
	case errors.Is(err, common.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials", Code: CodeInvalidCredentials})
	case errors.Is(err, common.ErrorUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token", Code: CodeInvalidToken})
	case errors.Is(err, common.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Code: CodeForbidden})
	case errors.Is(err, common.ErrorNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: CodeNotFound})
	case errors.Is(err, common.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already exists", Code: CodeConflict})
	case errors.Is(err, exports.ErrDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: CodeUnavailable})
	default:
		l.Error(ctx, "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: CodeInternal})
	}
}
