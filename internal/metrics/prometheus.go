// Package metrics provides Prometheus-based metrics collection for openvas-connector.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all connector metrics
	namespace = "openvas_connector"

	// Subsystems
	subsystemOMP       = "omp"
	subsystemWebhook   = "webhook"
	subsystemMonitor   = "monitor"
	subsystemScheduler = "scheduler"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// OMP command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	// Webhook metrics
	alertsTotal *prometheus.CounterVec

	// Monitor metrics
	pollsTotal   *prometheus.CounterVec
	taskProgress *prometheus.GaugeVec

	// Scheduler metrics
	schedulerRuns *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
	}

	pm.initCommandMetrics()
	pm.initWebhookMetrics()
	pm.initMonitorMetrics()
	pm.initSchedulerMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initCommandMetrics() {
	pm.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOMP,
			Name:      "commands_total",
			Help:      "Total number of OMP commands sent by command and status",
		},
		[]string{"command", "status"},
	)

	pm.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemOMP,
			Name:      "command_duration_seconds",
			Help:      "Wall time of omp client invocations in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"command"},
	)

	pm.commandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOMP,
			Name:      "command_errors_total",
			Help:      "Total number of failed OMP commands by command and error type",
		},
		[]string{"command", "error_type"},
	)
}

func (pm *PrometheusMetrics) initWebhookMetrics() {
	pm.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWebhook,
			Name:      "requests_total",
			Help:      "Requests received by the alert listener, split by whether they matched the alert path",
		},
		[]string{"matched"},
	)
}

func (pm *PrometheusMetrics) initMonitorMetrics() {
	pm.pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "polls_total",
			Help:      "Task status polls by reported task status",
		},
		[]string{"status"},
	)

	pm.taskProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "task_progress_percent",
			Help:      "Last observed progress of a monitored task",
		},
		[]string{"task_id"},
	)
}

func (pm *PrometheusMetrics) initSchedulerMetrics() {
	pm.schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "runs_total",
			Help:      "Scheduled task starts by outcome",
		},
		[]string{"schedule", "status"},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.commandsTotal)
	pm.registry.MustRegister(pm.commandDuration)
	pm.registry.MustRegister(pm.commandErrors)
	pm.registry.MustRegister(pm.alertsTotal)
	pm.registry.MustRegister(pm.pollsTotal)
	pm.registry.MustRegister(pm.taskProgress)
	pm.registry.MustRegister(pm.schedulerRuns)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler exposing the registry
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// IncrementCommands increments the OMP command counter
func (pm *PrometheusMetrics) IncrementCommands(command, status string) {
	pm.commandsTotal.WithLabelValues(command, status).Inc()
}

// RecordCommandDuration records how long an omp invocation took
func (pm *PrometheusMetrics) RecordCommandDuration(command string, duration time.Duration) {
	pm.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// IncrementCommandErrors increments the OMP command error counter
func (pm *PrometheusMetrics) IncrementCommandErrors(command, errorType string) {
	pm.commandErrors.WithLabelValues(command, errorType).Inc()
}

// IncrementWebhookRequests counts a request seen by the alert listener
func (pm *PrometheusMetrics) IncrementWebhookRequests(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	pm.alertsTotal.WithLabelValues(label).Inc()
}

// IncrementPolls counts a status poll
func (pm *PrometheusMetrics) IncrementPolls(status string) {
	pm.pollsTotal.WithLabelValues(status).Inc()
}

// SetTaskProgress records the last progress seen for a task
func (pm *PrometheusMetrics) SetTaskProgress(taskID string, progress int) {
	pm.taskProgress.WithLabelValues(taskID).Set(float64(progress))
}

// IncrementSchedulerRuns counts a scheduled start
func (pm *PrometheusMetrics) IncrementSchedulerRuns(schedule, status string) {
	pm.schedulerRuns.WithLabelValues(schedule, status).Inc()
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
