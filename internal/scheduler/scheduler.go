package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/model"
)

// Runner executes a single triage pass.
type Runner interface {
	RunOnce(ctx context.Context) (model.RunStats, error)
}

// Scheduler drives the Runner on a fixed interval.
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	interval  time.Duration
	runner    Runner
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	passMu    sync.Mutex
	isRunning bool
	mu        sync.RWMutex
	lastStats model.RunStats
	lastRun   time.Time
}

// New creates a scheduler that triggers a pass every interval.
func New(interval time.Duration, runner Runner) *Scheduler {
	return &Scheduler{
		interval: interval,
		runner:   runner,
	}
}

// Start begins periodic processing. One pass is run immediately so a
// freshly started daemon does not sit idle for a full interval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	minutes := int(s.interval / time.Minute)
	if minutes < 1 {
		return fmt.Errorf("interval must be at least one minute, got %v", s.interval)
	}

	// rebuilt on every Start so a stopped scheduler can be restarted
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithSeconds())

	schedule := fmt.Sprintf("0 */%d * * * *", minutes)

	entryID, err := s.cron.AddFunc(schedule, s.runPass)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPass()
	}()

	logrus.Infof("Scheduler started with interval: %d minutes", minutes)
	return nil
}

// Stop cancels future passes and waits for the in-flight one.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, cr := s.cancel, s.cron
	s.mu.Unlock()

	cancel()

	ctx := cr.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-ctx.Done()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	return nil
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runPass executes one triage pass. A pass still in flight when the
// next tick fires causes the tick to be dropped, not queued.
func (s *Scheduler) runPass() {
	if !s.passMu.TryLock() {
		logrus.Warn("Previous pass still running, skipping this tick")
		return
	}
	defer s.passMu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	select {
	case <-ctx.Done():
		return
	default:
	}

	logrus.Info("Starting triage pass")
	start := time.Now()

	stats, err := s.runner.RunOnce(ctx)
	if err != nil {
		logrus.Errorf("Triage pass failed: %v", err)
		return
	}

	s.mu.Lock()
	s.lastStats = stats
	s.lastRun = start
	s.mu.Unlock()

	logrus.Infof("Triage pass completed in %v: %s", time.Since(start).Round(time.Millisecond), stats)
}

// NextRun returns when the next pass is scheduled, or the zero time
// if the scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns the start time and stats of the most recent
// completed pass.
func (s *Scheduler) LastRun() (time.Time, model.RunStats) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastStats
}

// Wait blocks until any in-flight pass finishes.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
