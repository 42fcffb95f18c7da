package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/servicemart/ledgerhub/lib/metrics"
	"github.com/ziflex/lecho/v3"
)

var (
	ErrAlreadyRunning = errors.New("task is already running")
	ErrUnknownTask    = errors.New("unknown task")
)

type scheduled struct {
	task     Task
	interval time.Duration
	running  atomic.Bool
}

// Scheduler runs each task on its own interval. A tick that arrives while
// the previous run of the same task is still going is skipped.
type Scheduler struct {
	logger *lecho.Logger
	tasks  map[string]*scheduled
}

func NewScheduler(logger *lecho.Logger) *Scheduler {
	return &Scheduler{logger: logger, tasks: map[string]*scheduled{}}
}

// Add registers a task. A non-positive interval registers it for manual runs only.
func (s *Scheduler) Add(task Task, interval time.Duration) {
	s.tasks[task.Name()] = &scheduled{task: task, interval: interval}
}

func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, name := range s.Names() {
		entry := s.tasks[name]
		if entry.interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(entry *scheduled) {
			defer wg.Done()
			ticker := time.NewTicker(entry.interval)
			defer ticker.Stop()
			s.logger.Infof("Starting sweep task:%s interval:%s", entry.task.Name(), entry.interval)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.run(ctx, entry); err != nil && !errors.Is(err, ErrAlreadyRunning) {
						s.logger.Errorf("Sweep failed task:%s error: %v", entry.task.Name(), err)
					}
				}
			}
		}(entry)
	}
	wg.Wait()
	return ctx.Err()
}

// RunNow runs one task immediately, subject to the same overlap rule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (SweepResult, error) {
	entry, ok := s.tasks[name]
	if !ok {
		return SweepResult{Task: name}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, entry)
}

// RunAll runs every task once, in name order.
func (s *Scheduler) RunAll(ctx context.Context) ([]SweepResult, error) {
	results := []SweepResult{}
	var errs []error
	for _, name := range s.Names() {
		result, err := s.RunNow(ctx, name)
		results = append(results, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return results, errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, entry *scheduled) (SweepResult, error) {
	name := entry.task.Name()
	if !entry.running.CompareAndSwap(false, true) {
		metrics.SweepRuns.WithLabelValues(name, "skipped_overlap").Inc()
		s.logger.Warnf("Previous run still in flight, skipping task:%s", name)
		return SweepResult{Task: name}, ErrAlreadyRunning
	}
	defer entry.running.Store(false)

	start := time.Now()
	result, err := entry.task.Run(ctx)
	metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.SweepItems.WithLabelValues(name, "processed").Add(float64(result.Processed))
	metrics.SweepItems.WithLabelValues(name, "skipped").Add(float64(result.Skipped))
	metrics.SweepItems.WithLabelValues(name, "failed").Add(float64(result.Failed))
	if err != nil {
		metrics.SweepRuns.WithLabelValues(name, "error").Inc()
		sentry.CaptureException(err)
		return result, err
	}
	metrics.SweepRuns.WithLabelValues(name, "ok").Inc()
	if result.Scanned > 0 {
		s.logger.Infof("Sweep done %s", result)
	}
	return result, nil
}
