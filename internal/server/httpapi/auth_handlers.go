package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
)

type registerRequest struct {
	Handle      string `json:"handle"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	// Name is accepted as an alias of display_name.
	Name string `json:"name"`
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Handle) == "" {
		writeError(r.Context(), w, h.logger, common.ValidationError("handle", "is required"))
		return
	}
	if utf8.RuneCountInString(req.Password) < services.MinPasswordLength {
		writeError(r.Context(), w, h.logger,
			common.ValidationError("password", fmt.Sprintf("must be at least %d characters", services.MinPasswordLength)))
		return
	}

	name := req.DisplayName
	if name == "" {
		name = req.Name
	}

	res, err := h.sessions.Register(r.Context(), services.RegisterRequest{Handle: req.Handle, Password: req.Password, DisplayName: name})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Handle) == "" || req.Password == "" {
		writeError(r.Context(), w, h.logger, common.ValidationError("credentials", "handle and password are required"))
		return
	}

	res, err := h.sessions.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(r.Context(), w, h.logger, common.ValidationError("refresh_token", "is required"))
		return
	}

	res, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	profile, err := h.sessions.Profile(r.Context(), id.AccountID)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
