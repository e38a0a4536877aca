// Package monitor follows scan tasks until they finish and fetches their
// reports.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
	"github.com/anstrom/openvas-connector/internal/omp"
	"github.com/anstrom/openvas-connector/internal/webhook"
)

// Task statuses the monitor reacts to.
const (
	StatusDone        = "Done"
	StatusStopped     = "Stopped"
	StatusInterrupted = "Interrupted"
)

// Completion sources.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Defaults for Config.
const (
	DefaultStatusInterval = time.Hour
	DefaultReportRows     = 1000
)

// TaskClient is the subset of omp.Client the monitor needs.
type TaskClient interface {
	GetTasks(ctx context.Context, taskID, filter string) (*omp.Response, error)
	GetReports(ctx context.Context, q omp.ReportQuery) (*omp.Response, error)
}

// Config holds polling settings.
type Config struct {
	// StatusInterval is the base delay between polls. The actual delay
	// shrinks as the task progresses, see SleepInterval.
	StatusInterval time.Duration

	// ReportRows is the rows= value of the report filter.
	ReportRows int
}

// DefaultConfig returns a one hour interval and 1000 report rows.
func DefaultConfig() Config {
	return Config{
		StatusInterval: DefaultStatusInterval,
		ReportRows:     DefaultReportRows,
	}
}

// Monitor polls task status through a TaskClient.
type Monitor struct {
	client  TaskClient
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(pm *metrics.PrometheusMetrics) Option {
	return func(m *Monitor) {
		m.metrics = pm
	}
}

// New creates a monitor. Zero config values fall back to the defaults.
func New(client TaskClient, cfg Config, opts ...Option) *Monitor {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.ReportRows <= 0 {
		cfg.ReportRows = DefaultReportRows
	}
	m := &Monitor{
		client:  client,
		cfg:     cfg,
		logger:  logging.Default(),
		metrics: metrics.GetGlobalMetrics(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("monitor")
	return m
}

// SleepInterval returns the delay before the next poll: a fifth of interval
// plus the remaining four fifths scaled by the work left. Progress is
// clamped to [0, 100].
func SleepInterval(interval time.Duration, progress int) time.Duration {
	progress = clampProgress(progress)
	remaining := float64(interval) * 0.8 * (1 - float64(progress)/100)
	return interval/5 + time.Duration(math.Round(remaining))
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// WaitForTask polls the task until its status is Done. A task that ends up
// Stopped or Interrupted yields a TASK_ABORTED error along with its last
// state.
func (m *Monitor) WaitForTask(ctx context.Context, taskID string) (*omp.Task, error) {
	logger := m.logger.WithTaskID(taskID)

	for {
		resp, err := m.client.GetTasks(ctx, taskID, "")
		if err != nil {
			return nil, err
		}
		task, err := resp.Task()
		if err != nil {
			return nil, err
		}

		progress := clampProgress(task.Progress)
		m.metrics.IncrementPolls(task.Status)
		m.metrics.SetTaskProgress(taskID, progress)

		switch task.Status {
		case StatusDone:
			m.metrics.SetTaskProgress(taskID, 100)
			m.logger.InfoTask("Task finished", taskID, "status", task.Status)
			return task, nil
		case StatusStopped, StatusInterrupted:
			abortErr := errors.ErrTaskAborted(taskID, task.Status)
			m.logger.ErrorTask("Task ended without completing", taskID, abortErr, "progress", progress)
			return task, abortErr
		}

		delay := SleepInterval(m.cfg.StatusInterval, progress)
		logger.Info("Task in progress", "status", task.Status, "progress", progress, "next_check", delay)
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// LastReports fetches the newest report of a task. When the task has more
// than one finished report the result is a delta of the newest against the
// one before it.
func (m *Monitor) LastReports(ctx context.Context, taskID string) (*omp.Response, error) {
	resp, err := m.client.GetTasks(ctx, taskID, "")
	if err != nil {
		return nil, err
	}
	task, err := resp.Task()
	if err != nil {
		return nil, err
	}
	if task.LastReportID == "" {
		return nil, errors.NewCommandError(errors.CodeUnexpected,
			fmt.Sprintf("task %s has no last report", taskID), "get_tasks")
	}

	q := omp.ReportQuery{
		ReportID: task.LastReportID,
		Filter:   fmt.Sprintf("task_id=%s rows=%d", taskID, m.cfg.ReportRows),
	}
	if task.FinishedReports > 1 {
		if task.SecondLastReportID == "" {
			return nil, errors.NewCommandError(errors.CodeUnexpected,
				fmt.Sprintf("task %s has no second last report", taskID), "get_tasks")
		}
		q.ReportID = task.SecondLastReportID
		q.DeltaReportID = task.LastReportID
	}

	m.logger.InfoCommand("Fetching reports", "get_reports", "task_id", taskID, "report_id", q.ReportID,
		"delta_report_id", q.DeltaReportID, "finished_reports", task.FinishedReports)
	return m.client.GetReports(ctx, q)
}

// ReportWhenDone waits for the task and then returns LastReports.
func (m *Monitor) ReportWhenDone(ctx context.Context, taskID string) (*omp.Response, error) {
	if _, err := m.WaitForTask(ctx, taskID); err != nil {
		return nil, err
	}
	return m.LastReports(ctx, taskID)
}

// Completion tells which watcher saw the task finish first.
type Completion struct {
	Source string

	// Notification is set when the alert arrived first.
	Notification *webhook.Notification

	// Task is set when polling saw the task finish first.
	Task *omp.Task
}

// WaitForCompletion races the alert receiver against status polling. The
// first to observe completion stops the other. A receiver that cannot bind
// is logged and polling carries on alone.
func (m *Monitor) WaitForCompletion(ctx context.Context, taskID string, receiver *webhook.Receiver) (*Completion, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(raceCtx)

	var (
		mu     sync.Mutex
		result *Completion
	)
	finish := func(c *Completion) {
		mu.Lock()
		if result == nil {
			result = c
		}
		mu.Unlock()
		cancel()
	}

	g.Go(func() error {
		n, err := receiver.Wait(gctx)
		if err != nil {
			if gctx.Err() == nil {
				m.logger.WithError(err).Warn("Alert listener failed, relying on polling", "task_id", taskID)
			}
			return nil
		}
		finish(&Completion{Source: SourceWebhook, Notification: n})
		return nil
	})

	g.Go(func() error {
		task, err := m.WaitForTask(gctx, taskID)
		if err != nil {
			mu.Lock()
			decided := result != nil
			mu.Unlock()
			if decided {
				return nil
			}
			return err
		}
		finish(&Completion{Source: SourcePoll, Task: task})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if result == nil {
		return nil, ctx.Err()
	}
	m.logger.Info("Task completion observed", "task_id", taskID, "source", result.Source)
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
