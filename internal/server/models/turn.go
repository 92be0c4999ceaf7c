package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
)

const (
	StatusSent     = "sent"
	StatusFallback = "fallback"
)

// TurnMetadata describes how an assistant turn was produced. Token and
// timing figures are estimates.
type TurnMetadata struct {
	Model        string `json:"model,omitempty"`
	Tokens       int    `json:"tokens"`
	ProcessingMS int    `json:"processing_ms"`
	ToolCalls    int    `json:"tool_calls"`
	Iterations   int    `json:"iterations"`
}

// Turn is one message in a conversation, ordered by Seq.
type Turn struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Seq            int64         `json:"seq"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Format         string        `json:"format"`
	Status         string        `json:"status"`
	Metadata       *TurnMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
