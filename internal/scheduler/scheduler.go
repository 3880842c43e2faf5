// Package scheduler runs the periodic catch-up sweep: a date-range
// aggregation over a trailing window ending today, several times a day. Each
// run is bounded by a time budget; when the budget expires the run completes
// partially and reports the remainder instead of corrupting state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse/backend/internal/aggregate"
	"github.com/pulsehq/pulse/backend/internal/calendar"
)

var (
	errMissingRunner   = errors.New("scheduler: aggregation runner is required")
	errMissingLocation = errors.New("scheduler: timezone location is required")
)

// Runner executes aggregation requests.
type Runner interface {
	Run(ctx context.Context, request aggregate.Request) (aggregate.Report, error)
}

// Config describes the sweep parameters.
type Config struct {
	Runner     Runner
	Location   *time.Location
	Clock      func() time.Time
	Logger     *zap.Logger
	Interval   time.Duration
	WindowDays int
	RunBudget  time.Duration
}

// Scheduler owns the sweep goroutine.
type Scheduler struct {
	runner     Runner
	loc        *time.Location
	clock      func() time.Time
	logger     *zap.Logger
	interval   time.Duration
	windowDays int
	runBudget  time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New constructs the scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	if cfg.Location == nil {
		return nil, errMissingLocation
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	windowDays := cfg.WindowDays
	if windowDays < 1 {
		windowDays = 7
	}
	runBudget := cfg.RunBudget
	if runBudget <= 0 {
		runBudget = 30 * time.Minute
	}
	return &Scheduler{
		runner:     cfg.Runner,
		loc:        cfg.Location,
		clock:      clock,
		logger:     logger,
		interval:   interval,
		windowDays: windowDays,
		runBudget:  runBudget,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start launches the sweep loop. The first sweep fires after one interval so
// process start-up is not dominated by a full catch-up.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	<-s.done
}

// Sweep runs one trailing-window aggregation within the run budget.
func (s *Scheduler) Sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runBudget)
	defer cancel()

	today := calendar.Today(s.clock, s.loc)
	from := today
	for i := 1; i < s.windowDays; i++ {
		from = from.Prev()
	}

	report, err := s.runner.Run(runCtx, aggregate.Request{
		Mode: aggregate.ModeDateRange,
		From: from,
		To:   today,
	})
	if err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled sweep finished",
		zap.String("run_id", report.RunID),
		zap.String("from", from.String()),
		zap.String("to", today.String()),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("remaining", report.Remaining))
}
