package omp

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
)

// Client builds OMP requests and sends them through an Executor.
// It holds no connection state; every call is an independent round trip.
type Client struct {
	exec     Executor
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
	validate *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client on top of exec.
func NewClient(exec Executor, opts ...Option) *Client {
	c := &Client{
		exec:     exec,
		logger:   logging.Default(),
		metrics:  metrics.GetGlobalMetrics(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("omp")
	return c
}

// Send marshals req, runs it and parses the reply. When the manager answers
// with a non-2xx status the parsed response is returned together with a
// CodeRejected error.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	command := req.CommandName()
	requestID := uuid.NewString()
	logger := c.logger.WithFields("request_id", requestID)

	body, err := Marshal(req)
	if err != nil {
		c.metrics.IncrementCommandErrors(command, string(errors.CodeValidation))
		return nil, errors.ErrInvalidRequest(command, err)
	}

	start := time.Now()
	out, err := c.exec.Execute(ctx, command, body)
	c.metrics.RecordCommandDuration(command, time.Since(start))
	if err != nil {
		c.fail(command, err)
		logger.ErrorCommand("OMP command failed", command, err)
		return nil, err
	}

	resp, err := ParseResponse(command, out)
	if err != nil {
		c.fail(command, err)
		logger.ErrorCommand("Unparseable OMP response", command, err)
		return nil, err
	}

	if err := resp.Err(); err != nil {
		c.fail(command, err)
		logger.WithCommand(command).Warn("OMP command rejected",
			"status", resp.Status(), "status_text", resp.StatusText())
		return resp, err
	}

	c.metrics.IncrementCommands(command, "success")
	logger.WithCommand(command).Debug("OMP command completed", "status", resp.Status(), "duration", time.Since(start))
	return resp, nil
}

func (c *Client) fail(command string, err error) {
	c.metrics.IncrementCommands(command, "error")
	c.metrics.IncrementCommandErrors(command, string(errors.GetCode(err)))
}

func (c *Client) check(command string, v interface{}) error {
	if err := c.validate.Struct(v); err != nil {
		c.metrics.IncrementCommandErrors(command, string(errors.CodeValidation))
		return errors.ErrInvalidRequest(command, err)
	}
	return nil
}

func (c *Client) checkID(command, id string) error {
	if err := c.validate.Var(id, "required,uuid"); err != nil {
		c.metrics.IncrementCommandErrors(command, string(errors.CodeValidation))
		return errors.ErrInvalidRequest(command, err)
	}
	return nil
}

// CreateAlert creates an alert. A clause's data element is only sent when
// both its data and data name are set.
func (c *Client) CreateAlert(ctx context.Context, name string, condition, event, method AlertClause,
	comment string,
) (*Response, error) {
	return c.SendAlert(ctx, &CreateAlertRequest{
		Name:      name,
		Condition: condition,
		Event:     event,
		Method:    method,
		Comment:   comment,
	})
}

// SendAlert validates and sends a prepared create_alert request.
func (c *Client) SendAlert(ctx context.Context, req *CreateAlertRequest) (*Response, error) {
	if err := c.check(req.CommandName(), req); err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// CreateHTTPAlert creates an alert that calls url+"/task_done" when a task
// reaches status. Empty status and url fall back to "Done" and
// http://127.0.0.1:8081.
func (c *Client) CreateHTTPAlert(ctx context.Context, name, status, url string) (*Response, error) {
	return c.SendAlert(ctx, HTTPAlertRequest(name, status, url))
}

// CreateTarget creates a target for hosts. The name defaults to hosts.
func (c *Client) CreateTarget(ctx context.Context, hosts, name, comment string) (*Response, error) {
	if name == "" {
		name = hosts
	}
	req := &CreateTargetRequest{Name: name, Comment: comment, Hosts: hosts}
	if err := c.check(req.CommandName(), req); err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// CreateTask creates a scan task. An empty ConfigID selects DefaultConfigID.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Response, error) {
	if err := c.check(req.CommandName(), &req); err != nil {
		return nil, err
	}
	return c.Send(ctx, &req)
}

func (c *Client) deleteEntity(ctx context.Context, kind, id string) (*Response, error) {
	command := "delete_" + kind
	if err := c.checkID(command, id); err != nil {
		return nil, err
	}
	return c.Send(ctx, NewCommand(command).Set(kind+"_id", id))
}

// DeleteAlert deletes an alert.
func (c *Client) DeleteAlert(ctx context.Context, alertID string) (*Response, error) {
	return c.deleteEntity(ctx, "alert", alertID)
}

// DeleteReport deletes a report.
func (c *Client) DeleteReport(ctx context.Context, reportID string) (*Response, error) {
	return c.deleteEntity(ctx, "report", reportID)
}

// DeleteTarget deletes a target.
func (c *Client) DeleteTarget(ctx context.Context, targetID string) (*Response, error) {
	return c.deleteEntity(ctx, "target", targetID)
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) (*Response, error) {
	return c.deleteEntity(ctx, "task", taskID)
}

// GetAlerts lists alerts, or one alert when alertID is set.
func (c *Client) GetAlerts(ctx context.Context, alertID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_alerts", "alert_id", alertID, filter))
}

// GetConfigs lists scan configs.
func (c *Client) GetConfigs(ctx context.Context, configID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_configs", "config_id", configID, filter))
}

// GetPortLists lists port lists.
func (c *Client) GetPortLists(ctx context.Context, portListID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_port_lists", "port_list_id", portListID, filter))
}

// GetResults lists results. Filters that enable notes or overrides must
// also name a task.
func (c *Client) GetResults(ctx context.Context, resultID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_results", "result_id", resultID, filter))
}

// GetTargets lists targets.
func (c *Client) GetTargets(ctx context.Context, targetID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_targets", "target_id", targetID, filter))
}

// GetTasks lists tasks. The reply also carries the task count and the
// sort and override settings the manager applied.
func (c *Client) GetTasks(ctx context.Context, taskID, filter string) (*Response, error) {
	return c.Send(ctx, getCommand("get_tasks", "task_id", taskID, filter))
}

// GetReports fetches reports. A delta report id is only forwarded when the
// query names a report and its filter contains task_id=; otherwise it is
// dropped with a warning.
func (c *Client) GetReports(ctx context.Context, q ReportQuery) (*Response, error) {
	if q.DeltaReportID != "" && !q.DeltaAllowed() {
		c.logger.Warn("Report ID and Task ID are needed for delta reports, ignoring delta report ID",
			"delta_report_id", q.DeltaReportID, "report_id", q.ReportID, "filter", q.Filter)
	}
	return c.Send(ctx, q.Command())
}

// StartTask starts an existing task.
func (c *Client) StartTask(ctx context.Context, taskID string) (*Response, error) {
	if err := c.checkID("start_task", taskID); err != nil {
		return nil, err
	}
	return c.Send(ctx, NewCommand("start_task").Set("task_id", taskID))
}

// StopTask stops a running task.
func (c *Client) StopTask(ctx context.Context, taskID string) (*Response, error) {
	if err := c.checkID("stop_task", taskID); err != nil {
		return nil, err
	}
	return c.Send(ctx, NewCommand("stop_task").Set("task_id", taskID))
}
