package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner is one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Scheduler runs the pipeline once at start, then on every tick and on
// demand. Runs never overlap; triggers received during a run collapse into a
// single follow-up run.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	trigger  chan struct{}

	mu      sync.RWMutex
	last    *RunResult
	lastErr error
	runs    int

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Calling it more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.loop(ctx)
	})
}

// Trigger requests an immediate run. It reports false when a run is already
// queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the loop and waits for the in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

// Last returns the result of the most recent run, if any.
func (s *Scheduler) Last() (*RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// Runs returns the number of completed runs.
func (s *Scheduler) Runs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx, "start")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, "tick")
		case <-s.trigger:
			s.runOnce(ctx, "trigger")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	log.Debug().Str("reason", reason).Msg("pipeline run scheduled")

	// Stop lets the current run finish; its own timeout bounds it.
	res, err := s.runner.Run(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.last, s.lastErr = res, err
	s.runs++
	s.mu.Unlock()
}
