package goRotate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Sweeper periodically deletes refresh records and families that can no longer be
// redeemed. Anything it removes is older than RefreshTTL plus SafetyMargin, so every
// token that could still verify keeps its record.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSweeper returns a stopped sweeper for engine. A zero Interval selects one hour.
func NewSweeper(engine *Engine, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	return &Sweeper{engine: engine, cfg: cfg}
}

// Start schedules a sweep every Interval, the first one Interval from now. Passes never
// overlap. The schedule runs until ctx is cancelled or Stop is called; calling Start on
// a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err := scheduler.Every(s.cfg.Interval).WaitForSchedule().Do(func() {
		// Failures are logged and counted by Engine.Sweep; the next run retries.
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.StartAsync()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		// Stop waits for an in-flight pass to return.
		scheduler.Stop()
	}()

	s.cancel = cancel
	s.stopped = stopped
	return nil
}

// Stop cancels the schedule and blocks until any running pass has finished. It is
// idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped == nil {
		return
	}
	s.cancel()
	<-s.stopped
	s.cancel = nil
	s.stopped = nil
}

// MaxAge is the activity age beyond which records are removed.
func (s *Sweeper) MaxAge() time.Duration {
	return s.engine.config.JWT.RefreshTTL + s.cfg.SafetyMargin
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	return s.engine.Sweep(ctx, s.MaxAge())
}
