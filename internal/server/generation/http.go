package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"

	maxResponseBytes = 1 << 20
)

type chatRequest struct {
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Response      string `json:"response"`
	ToolCallsMade int    `json:"tool_calls_made"`
	Iterations    int    `json:"iterations"`
}

// HTTPGenerator POSTs the conversation to a chat agent endpoint, once per
// call, bounded by timeout.
type HTTPGenerator struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewHTTPGenerator builds the generator. A nil client means
// http.DefaultClient; the per-call timeout applies either way.
func NewHTTPGenerator(url, model string, timeout time.Duration, client *http.Client, logger logging.Logger, m *metrics.Metrics) *HTTPGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGenerator{url: url, model: model, timeout: timeout, client: client, logger: logger, metrics: m}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) Reply {
	start := time.Now()

	resp, err := g.call(ctx, req)
	if err != nil {
		g.logger.Warn(ctx, "reply generation failed, using fallback",
			"backend", "http", "account_id", req.Caller.AccountID, "error", err, "took", time.Since(start))
		g.metrics.GenerationOutcome("http", "fallback", time.Since(start))
		return FallbackReply()
	}

	g.metrics.GenerationOutcome("http", "ok", time.Since(start))
	return newReply(resp.Response, g.model, resp.ToolCallsMade, resp.Iterations)
}

// call returns an error wrapping common.ErrUpstreamUnavailable for every
// failure mode.
func (g *HTTPGenerator) call(ctx context.Context, req Request) (*chatResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{Messages: req.messages()})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", common.ErrUpstreamUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", common.ErrUpstreamUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderUserID, req.Caller.AccountID.String())
	httpReq.Header.Set(HeaderUserName, headerSafe(req.Caller.DisplayName))
	httpReq.Header.Set(HeaderUserEmail, headerSafe(req.Caller.Email))

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", common.ErrUpstreamUnavailable, httpResp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", common.ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, fmt.Errorf("%w: empty response", common.ErrUpstreamUnavailable)
	}
	if out.ToolCallsMade < 0 || out.Iterations < 0 {
		return nil, fmt.Errorf("%w: negative counters", common.ErrUpstreamUnavailable)
	}
	return &out, nil
}
