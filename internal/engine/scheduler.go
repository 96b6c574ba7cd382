package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs background passes on cron schedules. A pass that is still
// running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler whose runs are each bounded by timeout.
func NewScheduler(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a named pass. An empty spec disables it.
func (s *Scheduler) Add(name, spec string, pass func(ctx context.Context) error) error {
	if spec == "" {
		s.logger.Info("background pass disabled", zap.String("pass", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		start := time.Now()
		if err := pass(ctx); err != nil {
			s.logger.Warn("background pass failed",
				zap.String("pass", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Debug("background pass finished",
			zap.String("pass", name), zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// Start begins running passes in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running passes and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// SchedulePasses registers the backfill and migration passes.
func (e *Engine) SchedulePasses(s *Scheduler, backfillSpec, migrationSpec string) error {
	if err := s.Add("backfill", backfillSpec, func(ctx context.Context) error {
		if e.Embedder() == nil {
			return nil
		}
		_, err := e.Backfill(ctx, 0)
		return err
	}); err != nil {
		return err
	}
	return s.Add("migration", migrationSpec, func(ctx context.Context) error {
		_, err := e.MigrateAtomsBatch(ctx, 0)
		return err
	})
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
