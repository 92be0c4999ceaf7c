package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/memory"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeGenerator answers with reply (or echoes the message) and records
// every request.
type fakeGenerator struct {
	mu       sync.Mutex
	reply    *generation.Reply
	requests []generation.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req generation.Request) generation.Reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	if ctx.Err() != nil {
		return generation.FallbackReply()
	}
	if g.reply != nil {
		return *g.reply
	}
	return generation.Reply{
		Content:  "echo: " + req.Message,
		Format:   models.FormatPlain,
		Metadata: models.TurnMetadata{Model: "fake", Tokens: 3, ProcessingMS: 100, Iterations: 1},
	}
}

func (g *fakeGenerator) last() generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// recordingLogger keeps every audit line as a key/value map.
type recordingLogger struct {
	logging.NopLogger
	mu     sync.Mutex
	audits []map[string]any
}

func (l *recordingLogger) Info(_ context.Context, msg string, args ...any) {
	if msg != "audit" {
		return
	}
	entry := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			entry[k] = args[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audits = append(l.audits, entry)
}

func (l *recordingLogger) With(...any) logging.Logger { return l }

func (l *recordingLogger) lastAudit() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.audits) == 0 {
		return nil
	}
	return l.audits[len(l.audits)-1]
}

// -------- harness --------

type harness struct {
	clock         *testClock
	rm            *memory.InMemoryRepositoryManager
	sessions      *SessionService
	conversations *ConversationService
	generator     *fakeGenerator
	metrics       *metrics.Metrics
	audit         *recordingLogger
}

var testHasherParams = cryptox.Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := newTestClock()
	rm := memory.NewInMemoryRepositoryManager()
	m := metrics.New()

	hasher, err := cryptox.NewHasher(testHasherParams)
	require.NoError(t, err)

	codecs := Codecs{
		Access:  auth.NewCodec(auth.UseAccess, []byte("access-secret"), 15*time.Minute).WithClock(clk.Now),
		Refresh: auth.NewCodec(auth.UseRefresh, []byte("refresh-secret"), 7*24*time.Hour).WithClock(clk.Now),
	}
	lockout := NewLockoutTracker(LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}).WithClock(clk.Now)
	gen := &fakeGenerator{}
	audit := &recordingLogger{}

	return &harness{
		clock:         clk,
		rm:            rm,
		sessions:      NewSessionService(dbx.NoTx{}, rm, codecs, hasher, lockout, audit, m).WithClock(clk.Now),
		conversations: NewConversationService(dbx.NoTx{}, rm, gen, logging.NopLogger{}).WithClock(clk.Now),
		generator:     gen,
		metrics:       m,
		audit:         audit,
	}
}

// register creates an account and returns its session and caller identity.
func (h *harness) register(t *testing.T, handle, name string) (*AuthResult, auth.Identity) {
	t.Helper()

	res, err := h.sessions.Register(context.Background(), RegisterRequest{Handle: handle, Password: "Password123!", DisplayName: name})
	require.NoError(t, err)

	id, err := h.sessions.Authenticate(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	return res, *id
}
