package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	MaxMessageLength = 10000
	MaxTitleLength   = 200
	AutoTitleLength  = 50
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	DefaultTitle = "New conversation"
)

type SendMessageRequest struct {
	// ConversationID is nil to start a new conversation.
	ConversationID *uuid.UUID
	Content        string
}

// Exchange is the pair of turns appended by one SendMessage call.
type Exchange struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	UserTurn       *models.Turn `json:"user_turn"`
	AssistantTurn  *models.Turn `json:"assistant_turn"`
}

// ConversationDraft is what CreateConversation starts from: either
// EmptyConversation or FirstMessage.
type ConversationDraft interface {
	isConversationDraft()
}

// EmptyConversation creates a conversation with no turns.
type EmptyConversation struct {
	Title string
}

// FirstMessage creates a conversation by sending its first message.
type FirstMessage struct {
	Content string
}

func (EmptyConversation) isConversationDraft() {}
func (FirstMessage) isConversationDraft()      {}

// Created is the result of CreateConversation. Exchange is nil for an
// EmptyConversation draft.
type Created struct {
	Conversation *models.Conversation `json:"conversation"`
	Exchange     *Exchange            `json:"exchange,omitempty"`
}

// Page is 1-based. Zero values select the first page of DefaultPageLimit.
type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.Limit }

type ConversationList struct {
	Conversations []*models.Conversation `json:"conversations"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

type ConversationDetail struct {
	Conversation *models.Conversation `json:"conversation"`
	Turns        []*models.Turn       `json:"turns"`
	TotalTurns   int                  `json:"total_turns"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
}

// ConversationService runs the send-message pipeline and owner-scoped
// conversation management.
type ConversationService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	generator   generation.Generator
	logger      logging.Logger
	now         func() time.Time
}

func NewConversationService(tx dbx.Transactor, rm repomanager.RepositoryManager, gen generation.Generator, logger logging.Logger) *ConversationService {
	return &ConversationService{
		tx:          tx,
		repomanager: rm,
		generator:   gen,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *ConversationService) WithClock(now func() time.Time) *ConversationService {
	s.now = now
	return s
}

// SendMessage appends the caller's message, asks the generator for a reply
// and appends it. The user turn is committed before the generator is
// called; a generator failure is stored as a fallback assistant turn and is
// not an error.
func (s *ConversationService) SendMessage(ctx context.Context, caller auth.Identity, req SendMessageRequest) (*Exchange, error) {
	content, err := validateMessage(req.Content)
	if err != nil {
		return nil, err
	}

	var conv *models.Conversation
	if req.ConversationID != nil {
		conv, err = s.owned(ctx, caller, *req.ConversationID)
	} else {
		conv, err = s.repomanager.Conversations(s.tx.Conn()).Create(ctx, caller.AccountID, autoTitle(content), s.now())
		if err == nil {
			s.logger.Info(ctx, "conversation created", "account_id", caller.AccountID, "conversation_id", conv.ID)
		}
	}
	if err != nil {
		return nil, err
	}

	return s.exchange(ctx, caller, conv, content)
}

// CreateConversation starts a conversation from draft.
func (s *ConversationService) CreateConversation(ctx context.Context, caller auth.Identity, draft ConversationDraft) (*Created, error) {
	switch d := draft.(type) {
	case EmptyConversation:
		title, err := validateTitle(d.Title, true)
		if err != nil {
			return nil, err
		}
		conv, err := s.repomanager.Conversations(s.tx.Conn()).Create(ctx, caller.AccountID, title, s.now())
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		s.logger.Info(ctx, "conversation created", "account_id", caller.AccountID, "conversation_id", conv.ID)
		return &Created{Conversation: conv}, nil

	case FirstMessage:
		ex, err := s.SendMessage(ctx, caller, SendMessageRequest{Content: d.Content})
		if err != nil {
			return nil, err
		}
		conv, err := s.repomanager.Conversations(s.tx.Conn()).Get(ctx, ex.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("reload conversation: %w", err)
		}
		return &Created{Conversation: conv, Exchange: ex}, nil

	default:
		return nil, common.ValidationError("conversation", "draft is required")
	}
}

func (s *ConversationService) ListConversations(ctx context.Context, caller auth.Identity, page Page) (*ConversationList, error) {
	page = page.normalize()
	repo := s.repomanager.Conversations(s.tx.Conn())

	items, err := repo.ListByAccount(ctx, caller.AccountID, page.Limit, page.offset())
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	total, err := repo.CountByAccount(ctx, caller.AccountID)
	if err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	if items == nil {
		items = []*models.Conversation{}
	}
	return &ConversationList{Conversations: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// GetConversation returns the conversation with one page of its turns in
// Seq order.
func (s *ConversationService) GetConversation(ctx context.Context, caller auth.Identity, id uuid.UUID, page Page) (*ConversationDetail, error) {
	conv, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	page = page.normalize()
	repo := s.repomanager.Turns(s.tx.Conn())

	items, err := repo.ListByConversation(ctx, id, page.Limit, page.offset())
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	total, err := repo.CountByConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}
	if items == nil {
		items = []*models.Turn{}
	}
	return &ConversationDetail{Conversation: conv, Turns: items, TotalTurns: total, Page: page.Page, Limit: page.Limit}, nil
}

func (s *ConversationService) RenameConversation(ctx context.Context, caller auth.Identity, id uuid.UUID, title string) (*models.Conversation, error) {
	title, err := validateTitle(title, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, caller, id); err != nil {
		return nil, err
	}

	repo := s.repomanager.Conversations(s.tx.Conn())
	if err := repo.Rename(ctx, id, title, s.now()); err != nil {
		return nil, err
	}
	return repo.Get(ctx, id)
}

// DeleteConversation removes the conversation and all of its turns.
func (s *ConversationService) DeleteConversation(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	if _, err := s.owned(ctx, caller, id); err != nil {
		return err
	}
	if err := s.repomanager.Conversations(s.tx.Conn()).Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "conversation deleted", "account_id", caller.AccountID, "conversation_id", id)
	return nil
}

// DeleteTurn removes one turn. Ownership is checked through the parent
// conversation.
func (s *ConversationService) DeleteTurn(ctx context.Context, caller auth.Identity, turnID uuid.UUID) error {
	turn, err := s.repomanager.Turns(s.tx.Conn()).Get(ctx, turnID)
	if err != nil {
		return err
	}
	if _, err := s.owned(ctx, caller, turn.ConversationID); err != nil {
		return err
	}
	return s.repomanager.Turns(s.tx.Conn()).Delete(ctx, turnID)
}

// --- helpers below ---

// owned loads the conversation and checks it belongs to caller.
func (s *ConversationService) owned(ctx context.Context, caller auth.Identity, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.repomanager.Conversations(s.tx.Conn()).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.AccountID != caller.AccountID {
		s.logger.Warn(ctx, "conversation access denied", "account_id", caller.AccountID, "conversation_id", id)
		return nil, common.ErrForbidden
	}
	return conv, nil
}

func (s *ConversationService) exchange(ctx context.Context, caller auth.Identity, conv *models.Conversation, content string) (*Exchange, error) {
	userTurn, err := s.appendTurn(ctx, &models.Turn{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        content,
		Format:         models.FormatPlain,
		Status:         models.StatusSent,
	})
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	history, err := s.history(ctx, conv.ID, userTurn.Seq)
	if err != nil {
		return nil, err
	}

	reply := s.generator.Generate(ctx, generation.Request{
		History: history,
		Message: content,
		Caller:  s.callerOf(ctx, caller),
	})

	// Fallback replies carry zero metadata; assistant turns always have a
	// metadata block.
	meta := reply.Metadata
	assistant := &models.Turn{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply.Content,
		Format:         reply.Format,
		Status:         models.StatusSent,
		Metadata:       &meta,
	}
	if reply.Fallback {
		assistant.Status = models.StatusFallback
	}

	// The caller may have gone away while the reply was generated; the
	// log still gets its assistant turn.
	assistantTurn, err := s.appendTurn(context.WithoutCancel(ctx), assistant)
	if err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}

	s.logger.Info(ctx, "message exchanged",
		"account_id", caller.AccountID, "conversation_id", conv.ID,
		"user_seq", userTurn.Seq, "assistant_seq", assistantTurn.Seq, "fallback", reply.Fallback)

	return &Exchange{ConversationID: conv.ID, UserTurn: userTurn, AssistantTurn: assistantTurn}, nil
}

// appendTurn takes the next sequence number and inserts the turn in one
// transaction.
func (s *ConversationService) appendTurn(ctx context.Context, turn *models.Turn) (*models.Turn, error) {
	now := s.now()
	err := s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		seq, err := s.repomanager.Conversations(tx).NextSeq(ctx, turn.ConversationID, now)
		if err != nil {
			return err
		}
		turn.Seq = seq
		turn.CreatedAt = now
		return s.repomanager.Turns(tx).Create(ctx, turn)
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// history returns the turns before seq, oldest first. Fallback replies are
// left out; they were never produced by the generator.
func (s *ConversationService) history(ctx context.Context, conversationID uuid.UUID, before int64) ([]generation.Message, error) {
	turns, err := s.repomanager.Turns(s.tx.Conn()).ListByConversation(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]generation.Message, 0, len(turns))
	for _, t := range turns {
		if t.Seq >= before || t.Status == models.StatusFallback {
			continue
		}
		out = append(out, generation.Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

// callerOf fills the generator caller from the account. A failed lookup
// falls back to what the token carries.
func (s *ConversationService) callerOf(ctx context.Context, id auth.Identity) generation.Caller {
	c := generation.Caller{AccountID: id.AccountID, DisplayName: id.Handle, Email: id.Handle}

	account, err := s.repomanager.Accounts(s.tx.Conn()).GetByID(ctx, id.AccountID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "caller lookup failed", "account_id", id.AccountID, "error", err)
		}
		return c
	}
	if account.DisplayName != "" {
		c.DisplayName = account.DisplayName
	}
	c.Email = account.Handle
	return c
}

func validateMessage(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", common.ValidationError("message", "is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", common.ValidationError("message", fmt.Sprintf("must be at most %d characters", MaxMessageLength))
	}
	return content, nil
}

// validateTitle trims title. An empty title is replaced by DefaultTitle
// when allowEmpty is set.
func validateTitle(title string, allowEmpty bool) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		if allowEmpty {
			return DefaultTitle, nil
		}
		return "", common.ValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", common.ValidationError("title", fmt.Sprintf("must be at most %d characters", MaxTitleLength))
	}
	return title, nil
}

func autoTitle(content string) string {
	return common.Truncate(strings.Join(strings.Fields(content), " "), AutoTitleLength)
}
