package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiSend performs one chat round trip. It is a seam for tests.
type geminiSend func(ctx context.Context, history []*genai.Content, msg string) (*genai.GenerateContentResponse, error)

// GeminiGenerator produces replies with a Google Gemini model.
type GeminiGenerator struct {
	model   string
	timeout time.Duration
	send    geminiSend
	close   func() error
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration, logger logging.Logger, m *metrics.Metrics) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	send := func(ctx context.Context, history []*genai.Content, msg string) (*genai.GenerateContentResponse, error) {
		cs := client.GenerativeModel(model).StartChat()
		cs.History = history
		return cs.SendMessage(ctx, genai.Text(msg))
	}

	return &GeminiGenerator{model: model, timeout: timeout, send: send, close: client.Close, logger: logger, metrics: m}, nil
}

func (g *GeminiGenerator) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) Reply {
	start := time.Now()

	text, err := g.call(ctx, req)
	if err != nil {
		g.logger.Warn(ctx, "reply generation failed, using fallback",
			"backend", "gemini", "account_id", req.Caller.AccountID, "error", err, "took", time.Since(start))
		g.metrics.GenerationOutcome("gemini", "fallback", time.Since(start))
		return FallbackReply()
	}

	g.metrics.GenerationOutcome("gemini", "ok", time.Since(start))
	return newReply(text, g.model, 0, 1)
}

func (g *GeminiGenerator) call(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	history, msg := toGeminiHistory(req.History, req.Message)
	resp, err := g.send(ctx, history, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates", common.ErrUpstreamUnavailable)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty response", common.ErrUpstreamUnavailable)
	}
	return b.String(), nil
}

// toGeminiHistory maps turns onto Gemini roles (assistant becomes model)
// and folds consecutive same-role turns into one entry, since Gemini wants
// user and model to alternate. A trailing user entry is merged into msg.
func toGeminiHistory(history []Message, msg string) ([]*genai.Content, string) {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(m.Content))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	if n := len(out); n > 0 && out[n-1].Role == "user" {
		var b strings.Builder
		for _, part := range out[n-1].Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
				b.WriteString("\n\n")
			}
		}
		b.WriteString(msg)
		out, msg = out[:n-1], b.String()
	}
	return out, msg
}
