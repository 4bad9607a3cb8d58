package scheduler

import (
	"context"
	"time"

	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/clock"
	obsmetrics "github.com/tablevox/checkout/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Store   domain.SessionStore
	Config  Config              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Scheduler owns the periodic TTL sweep of the session store. It is started
// and stopped with the application lifecycle rather than living as a
// free-floating timer.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	store   domain.SessionStore
	metrics *obsmetrics.Metrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "sweeper")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		store:   p.Store,
		metrics: p.Metrics,
	}
}

// RunOnce performs a single sweep pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.log.Error("session sweep failed", zap.Error(err))
		return err
	}
	s.metrics.RecordSweptSessions(removed)
	if removed > 0 {
		s.log.Info("swept expired sessions",
			zap.Int("removed", removed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// RunForever sweeps on a fixed interval until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
