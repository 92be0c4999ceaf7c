// Package generation reaches the external reply generator. Every backend
// honours the same contract: Generate never fails, it degrades to a fixed
// fallback reply and logs the cause.
package generation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

// FallbackText is the assistant reply stored when generation fails.
const FallbackText = "I'm temporarily unable to respond. Please try again in a moment."

// Message is one prior turn as the generator sees it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Caller identifies the account on whose behalf the reply is generated.
type Caller struct {
	AccountID   uuid.UUID
	DisplayName string
	Email       string
}

type Request struct {
	// History holds prior turns, oldest first, without Message.
	History []Message
	Message string
	Caller  Caller
}

// Reply is the generated (or fallback) assistant turn content.
type Reply struct {
	Content  string
	Format   string
	Metadata models.TurnMetadata
	Fallback bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) Reply
}

// FallbackReply is the degraded reply: fixed text and zero metadata.
func FallbackReply() Reply {
	return Reply{Content: FallbackText, Format: models.FormatPlain, Fallback: true}
}

// newReply derives format and the metadata estimates from the content.
func newReply(content, model string, toolCalls, iterations int) Reply {
	return Reply{
		Content: content,
		Format:  DetectFormat(content),
		Metadata: models.TurnMetadata{
			Model:        model,
			Tokens:       utf8.RuneCountInString(content) / 4,
			ProcessingMS: iterations * 100,
			ToolCalls:    toolCalls,
			Iterations:   iterations,
		},
	}
}

// messages is the full conversation sent upstream: history plus the new
// user message.
func (r Request) messages() []Message {
	out := make([]Message, 0, len(r.History)+1)
	out = append(out, r.History...)
	return append(out, Message{Role: models.RoleUser, Content: r.Message})
}

// headerSafe drops control characters so caller data cannot break headers.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
