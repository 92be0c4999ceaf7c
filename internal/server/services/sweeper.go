package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

// Sweeper periodically deletes refresh tokens that are both revoked and
// expired. Live tokens are never touched.
type Sweeper struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	interval    time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewSweeper(tx dbx.Transactor, rm repomanager.RepositoryManager, interval time.Duration, logger logging.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{tx: tx, repomanager: rm, interval: interval, logger: logger, metrics: m, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables the sweeper and Run returns immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info(ctx, "credential sweeper disabled")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns the number of deleted rows.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.tx.Conn()).SweepExpired(ctx, s.now())
	if err != nil {
		s.logger.Error(ctx, "credential sweep failed", "error", err)
		return 0, err
	}
	s.metrics.CredentialsSwept(n)
	s.logger.Info(ctx, "credential sweep done", "deleted", n)
	return n, nil
}
