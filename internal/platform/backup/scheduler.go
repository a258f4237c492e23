package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner is what the Scheduler drives. *Manager implements it.
type Runner interface {
	Run(ctx context.Context) (*Record, error)
	Last() (*Record, error)
}

// DefaultCheckInterval is how often the Scheduler looks for a due backup.
const DefaultCheckInterval = time.Minute

// Scheduler runs a backup whenever the last one is older than the
// configured interval.
type Scheduler struct {
	runner        Runner
	logger        zerolog.Logger
	checkInterval time.Duration
	nowFunc       func() time.Time

	mu      sync.Mutex
	enabled bool
	every   time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(r Runner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:        r,
		logger:        logger,
		checkInterval: DefaultCheckInterval,
		nowFunc:       time.Now,
	}
}

// Apply changes the schedule. It takes effect on the next check.
func (s *Scheduler) Apply(enabled bool, every time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled && every > 0
	s.every = every
	s.logger.Info().Bool("enabled", s.enabled).Dur("every", every).Msg("backup schedule applied")
}

// Start launches the check loop. Calling Start on a running Scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for a running backup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs a backup when one is due and reports whether it did.
func (s *Scheduler) check(ctx context.Context) bool {
	s.mu.Lock()
	enabled, every := s.enabled, s.every
	s.mu.Unlock()
	if !enabled {
		return false
	}

	last, err := s.runner.Last()
	switch {
	case errors.Is(err, ErrNoBackup):
	case err != nil:
		s.logger.Error().Err(err).Msg("failed to read last backup")
		return false
	case s.nowFunc().Sub(last.Timestamp) < every:
		return false
	}

	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("automatic backup failed")
		return false
	}
	return true
}
