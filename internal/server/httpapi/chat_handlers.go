package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type createConversationRequest struct {
	Title        string  `json:"title"`
	FirstMessage *string `json:"first_message"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if err := validateMessage(req.Message); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	in := services.SendMessageRequest{Content: req.Message}
	if req.ConversationID != "" {
		id, err := parseID("conversation_id", req.ConversationID)
		if err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
		in.ConversationID = &id
	}

	ex, err := h.conversations.SendMessage(r.Context(), caller, in)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	var req createConversationRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	var draft services.ConversationDraft = services.EmptyConversation{Title: req.Title}
	if req.FirstMessage != nil {
		if err := validateMessage(*req.FirstMessage); err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
		draft = services.FirstMessage{Content: *req.FirstMessage}
	}

	created, err := h.conversations.CreateConversation(r.Context(), caller, draft)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	page, err := parsePage(r)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	list, err := h.conversations.ListConversations(r.Context(), caller, page)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	id, err := parseID("conversation id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	detail, err := h.conversations.GetConversation(r.Context(), caller, id, page)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) renameConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	id, err := parseID("conversation id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	conv, err := h.conversations.RenameConversation(r.Context(), caller, id, req.Title)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	id, err := parseID("conversation id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if err := h.conversations.DeleteConversation(r.Context(), caller, id); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportConversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	id, err := parseID("conversation id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	res, err := h.exporter.Export(r.Context(), caller, id)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) deleteTurn(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFrom(r.Context())

	id, err := parseID("turn id", chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if err := h.conversations.DeleteTurn(r.Context(), caller, id); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers below ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.ValidationError("body", "must be valid JSON")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return common.ValidationError("body", "must be valid JSON")
	}
	return nil
}

func validateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return common.ValidationError("message", "is required")
	}
	if utf8.RuneCountInString(msg) > services.MaxMessageLength {
		return common.ValidationError("message", fmt.Sprintf("must be at most %d characters", services.MaxMessageLength))
	}
	return nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.ValidationError(field, "must be a UUID")
	}
	return id, nil
}

// parsePage reads page and limit. Absent values take the defaults; present
// values must be in range.
func parsePage(r *http.Request) (services.Page, error) {
	p := services.Page{Page: 1, Limit: services.DefaultPageLimit}
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, common.ValidationError("page", "must be a positive integer")
		}
		p.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > services.MaxPageLimit {
			return p, common.ValidationError("limit", fmt.Sprintf("must be between 1 and %d", services.MaxPageLimit))
		}
		p.Limit = n
	}
	return p, nil
}
