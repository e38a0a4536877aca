// Package scheduler starts scan tasks on cron schedules.
// Each firing sends a single start_task; failures are logged and counted
// and the job simply waits for its next slot.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
	"github.com/anstrom/openvas-connector/internal/omp"
)

// Run outcomes recorded in metrics.
const (
	runSuccess = "success"
	runError   = "error"
	runSkipped = "skipped"
)

const defaultStartTimeout = 5 * time.Minute

// TaskStarter starts an existing scan task.
type TaskStarter interface {
	StartTask(ctx context.Context, taskID string) (*omp.Response, error)
}

// Scheduler manages scheduled task starts.
type Scheduler struct {
	starter      TaskStarter
	cron         *cron.Cron
	jobs         map[string]*ScheduledJob
	mu           sync.RWMutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *logging.Logger
	metrics      *metrics.PrometheusMetrics
	startTimeout time.Duration
}

// ScheduledJob is a task start bound to a cron expression.
type ScheduledJob struct {
	ID        uuid.UUID
	CronID    cron.EntryID
	Name      string
	Spec      string
	TaskID    string
	LastRun   time.Time
	NextRun   time.Time
	LastError string
	Running   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithStartTimeout bounds each start_task call.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.startTimeout = d
	}
}

// NewScheduler creates a scheduler that starts tasks through starter.
func NewScheduler(starter TaskStarter, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		starter:      starter,
		jobs:         make(map[string]*ScheduledJob),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logging.Default(),
		metrics:      metrics.GetGlobalMetrics(),
		startTimeout: defaultStartTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	return s
}

// Start begins firing jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for starts in flight to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()
	<-done.Done()

	s.logger.Info("Scheduler stopped")
}

// Add registers a job that starts taskID on the standard five field cron
// expression spec. Descriptors such as @daily and @every 1h are accepted.
func (s *Scheduler) Add(name, spec, taskID string) error {
	if name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if taskID == "" {
		return fmt.Errorf("schedule %q: task id is required", name)
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("schedule %q: invalid cron expression: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("schedule %q already exists", name)
	}

	job := &ScheduledJob{
		ID:      uuid.New(),
		Name:    name,
		Spec:    spec,
		TaskID:  taskID,
		NextRun: schedule.Next(time.Now()),
	}
	job.CronID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.executeJob(name)
	}))
	s.jobs[name] = job

	s.logger.Info("Added schedule", "name", name, "cron", spec, "task_id", taskID)
	return nil
}

// AddFromConfig registers every configured schedule.
func (s *Scheduler) AddFromConfig(schedules []config.ScheduleConfig) error {
	for _, sc := range schedules {
		if err := s.Add(sc.Name, sc.Cron, sc.TaskID); err != nil {
			return err
		}
	}
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("schedule %q not found", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed schedule", "name", name)
	return nil
}

// Entries returns a snapshot of the registered jobs ordered by name.
func (s *Scheduler) Entries() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		entry := *job
		if e := s.cron.Entry(job.CronID); e.Valid() && !e.Next.IsZero() {
			entry.NextRun = e.Next
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// executeJob sends start_task for a job unless its previous start is
// still in flight.
func (s *Scheduler) executeJob(name string) {
	job, ok := s.prepareJobExecution(name)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	logger := s.logger.WithFields("schedule", name)
	logger.InfoTask("Starting scheduled task", job.TaskID)

	var lastError string
	defer func() {
		s.cleanupJobExecution(name, lastError)
	}()

	resp, err := s.starter.StartTask(ctx, job.TaskID)
	if err != nil {
		lastError = err.Error()
		s.metrics.IncrementSchedulerRuns(name, runError)
		logger.ErrorTask("Scheduled task start failed", job.TaskID, err)
	} else {
		s.metrics.IncrementSchedulerRuns(name, runSuccess)
		logger.InfoTask("Scheduled task started", job.TaskID,
			"status", resp.Status(), "report_id", resp.Root.Text("report_id"))
	}
}

// prepareJobExecution marks the job running, or reports false when it is
// unknown or already running.
func (s *Scheduler) prepareJobExecution(name string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return ScheduledJob{}, false
	}
	if job.Running {
		s.metrics.IncrementSchedulerRuns(name, runSkipped)
		s.logger.Warn("Previous start still running, skipping", "name", name)
		return ScheduledJob{}, false
	}

	job.Running = true
	job.LastRun = time.Now()
	return *job, true
}

// cleanupJobExecution marks the job as no longer running.
func (s *Scheduler) cleanupJobExecution(name, lastError string) {
	s.mu.Lock()
	if job, exists := s.jobs[name]; exists {
		job.Running = false
		job.LastError = lastError
	}
	s.mu.Unlock()
}

// cronLogger routes cron's own messages, including recovered panics, to
// the scheduler logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).Error(msg, keysAndValues...)
}
