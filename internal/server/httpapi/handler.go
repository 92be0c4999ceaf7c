// Package httpapi is the JSON-over-HTTP transport: a chi router, bearer
// authentication and the mapping of service errors onto statuses.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/exports"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Sessions is the part of *services.SessionService the transport uses.
type Sessions interface {
	Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResult, error)
	Login(ctx context.Context, handle, password string) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context, accountID uuid.UUID) (*models.AccountSummary, error)
	Authenticate(ctx context.Context, accessToken string) (*auth.Identity, error)
}

// Conversations is the part of *services.ConversationService the transport
// uses.
type Conversations interface {
	SendMessage(ctx context.Context, caller auth.Identity, req services.SendMessageRequest) (*services.Exchange, error)
	CreateConversation(ctx context.Context, caller auth.Identity, draft services.ConversationDraft) (*services.Created, error)
	ListConversations(ctx context.Context, caller auth.Identity, page services.Page) (*services.ConversationList, error)
	GetConversation(ctx context.Context, caller auth.Identity, id uuid.UUID, page services.Page) (*services.ConversationDetail, error)
	RenameConversation(ctx context.Context, caller auth.Identity, id uuid.UUID, title string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, caller auth.Identity, id uuid.UUID) error
	DeleteTurn(ctx context.Context, caller auth.Identity, turnID uuid.UUID) error
}

type Exporter interface {
	Export(ctx context.Context, caller auth.Identity, conversationID uuid.UUID) (*exports.Result, error)
}

type Handler struct {
	sessions      Sessions
	conversations Conversations
	exporter      Exporter
	logger        logging.Logger
	metrics       *metrics.Metrics
}

func NewHandler(s Sessions, c Conversations, e Exporter, l logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{sessions: s, conversations: c, exporter: e, logger: l, metrics: m}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(h.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.With(h.bearerAuth).Get("/me", h.me)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.bearerAuth)

			r.Post("/chat/messages", h.sendMessage)
			r.Get("/chat/conversations", h.listConversations)
			r.Post("/chat/conversations", h.createConversation)
			r.Get("/chat/conversations/{id}", h.getConversation)
			r.Patch("/chat/conversations/{id}", h.renameConversation)
			r.Delete("/chat/conversations/{id}", h.deleteConversation)
			r.Post("/chat/conversations/{id}/export", h.exportConversation)
			r.Delete("/chat/turns/{id}", h.deleteTurn)
		})
	})

	return r
}
