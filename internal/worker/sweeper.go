package worker

import (
	"context"
	"fmt"
	"time"

	"course-billing/internal/service"
	"course-billing/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleSweeper re-reconciles references left pending
type StaleSweeper interface {
	SweepStalePending(ctx context.Context, minAge time.Duration, batch int) (*service.SweepReport, error)
}

// Sweeper runs the stale-pending sweep on a cron schedule
type Sweeper struct {
	cron     *cron.Cron
	sweeper  StaleSweeper
	schedule string
	minAge   time.Duration
	batch    int
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. Overlapping runs are skipped.
func NewSweeper(sweeper StaleSweeper, schedule string, minAge time.Duration, batch int) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper:  sweeper,
		schedule: schedule,
		minAge:   minAge,
		batch:    batch,
		timeout:  5 * time.Minute,
		ctx:      ctx,
		cancel:   cancel,
		logger:   util.GetLogger(),
	}
}

// Start registers the sweep job and starts the scheduler
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Pending sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop cancels a running sweep and waits for it to return
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Pending sweeper stopped")
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	util.SweeperRunsTotal.Inc()
	start := time.Now()

	report, err := s.sweeper.SweepStalePending(ctx, s.minAge, s.batch)
	if err != nil {
		s.logger.Error("Pending sweep failed", zap.Error(err))
		return
	}

	s.logger.Info("Pending sweep completed",
		zap.Int("candidates", report.Candidates),
		zap.Any("results", report.Results),
		zap.Duration("took", time.Since(start)))
}
