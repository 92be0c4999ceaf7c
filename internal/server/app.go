// Package server wires storage, services and transport together and runs
// the HTTP server and the credential sweeper until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/exports"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	server  *httpapi.Server
	sweeper *services.Sweeper
	closers []io.Closer
}

// storage opens the configured backend. An empty DSN selects the in-memory
// repositories.
func storage(ctx context.Context, c *config.Config, logger logging.Logger) (dbx.Transactor, repomanager.RepositoryManager, *sql.DB, error) {
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, using in-memory storage")
		return dbx.NoTx{}, memory.NewInMemoryRepositoryManager(), nil, nil
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return dbx.NewSQLTransactor(db, nil), rm, db, nil
}

// generator builds the configured reply backend.
func generator(ctx context.Context, c *config.Config, logger logging.Logger, m *metrics.Metrics) (generation.Generator, io.Closer, error) {
	switch c.GenerationBackend {
	case "", "http":
		return generation.NewHTTPGenerator(c.GenerationURL, c.GenerationModel, c.GenerationTimeout, &http.Client{}, logger, m), nil, nil
	case "gemini":
		g, err := generation.NewGeminiGenerator(ctx, c.GeminiAPIKey, c.GenerationModel, c.GenerationTimeout, logger, m)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	default:
		return nil, nil, fmt.Errorf("unknown generation backend %q", c.GenerationBackend)
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(os.Stdout, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, err
	}

	tx, rm, db, err := storage(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	app := &App{config: c, logger: logger, db: db}

	m := metrics.New()

	hasher, err := cryptox.NewHasher(cryptox.DefaultParams)
	if err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	codecs := services.Codecs{
		Access:  auth.NewCodec(auth.UseAccess, []byte(c.AccessTokenSecret), c.AccessTokenValidityDuration),
		Refresh: auth.NewCodec(auth.UseRefresh, []byte(c.RefreshTokenSecret), c.RefreshTokenValidityDuration),
	}
	lockout := services.NewLockoutTracker(services.LockoutPolicy{MaxAttempts: c.LockoutMaxAttempts, Duration: c.LockoutDuration})
	sessions := services.NewSessionService(tx, rm, codecs, hasher, lockout, logger.With("module", "sessions"), m)

	gen, genCloser, err := generator(ctx, c, logger.With("module", "generation"), m)
	if err != nil {
		app.close(ctx)
		return nil, err
	}
	if genCloser != nil {
		app.closers = append(app.closers, genCloser)
	}
	conversations := services.NewConversationService(tx, rm, gen, logger.With("module", "conversations"))

	exporter, err := exports.NewService(ctx, exports.Config{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3BaseEndpoint,
		AccessKey: c.S3RootUser,
		SecretKey: c.S3RootPassword,
	}, conversations, logger.With("module", "exports"))
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	handler := httpapi.NewHandler(sessions, conversations, exporter, logger, m)
	app.server = httpapi.NewServer(c.HTTPAddr, handler.Routes(), logger)
	app.sweeper = services.NewSweeper(tx, rm, c.SweepInterval, logger.With("module", "sweeper"), m)

	return app, nil
}

// Run blocks until SIGINT/SIGTERM or until the server or the sweeper fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "generation_backend", app.config.GenerationBackend, "persistent", app.db != nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.server.Run(ctx) })
	g.Go(func() error { return app.sweeper.Run(ctx) })

	err := g.Wait()
	app.close(context.WithoutCancel(ctx))
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
		return err
	}
	app.logger.Info(ctx, "app stopped")
	return nil
}

func (app *App) close(ctx context.Context) {
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			app.logger.Warn(ctx, "close failed", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(ctx, "db close failed", "error", err)
		}
	}
}
