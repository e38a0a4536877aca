package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
	"github.com/anstrom/openvas-connector/internal/omp"
	"github.com/anstrom/openvas-connector/internal/omp/mocks"
	"github.com/anstrom/openvas-connector/internal/webhook"
)

const (
	taskID         = "1f3c6a2e-4b7d-4d8e-9a0b-1c2d3e4f5a6b"
	lastReport     = "9d0e1f2a-3b4c-4d5e-8f6a-7b8c9d0e1f2a"
	secondLastRept = "0a1b2c3d-4e5f-4a6b-8c7d-8e9f0a1b2c3d"
)

var getTasksRequest = []byte(`<get_tasks task_id="` + taskID + `"></get_tasks>`)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func taskResponse(status string, progress, finished int) []byte {
	return []byte(fmt.Sprintf(`<get_tasks_response status="200" status_text="OK">
  <task id="%s">
    <name>weekly</name>
    <status>%s</status>
    <progress>%d</progress>
    <report_count>%d<finished>%d</finished></report_count>
    <last_report><report id="%s"/></last_report>
    <second_last_report><report id="%s"/></second_last_report>
  </task>
</get_tasks_response>`, taskID, status, progress, finished+1, finished, lastReport, secondLastRept))
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *mocks.MockExecutor, *recordedSleeps) {
	t.Helper()
	exec := mocks.NewMockExecutor(gomock.NewController(t))
	pm := metrics.NewPrometheusMetrics()
	client := omp.NewClient(exec, omp.WithLogger(logging.NewDiscard()), omp.WithMetrics(pm))

	m := New(client, cfg, WithLogger(logging.NewDiscard()), WithMetrics(pm))
	sleeps := &recordedSleeps{}
	m.sleep = sleeps.sleep
	return m, exec, sleeps
}

func TestSleepInterval(t *testing.T) {
	tests := []struct {
		progress int
		want     time.Duration
	}{
		{0, 3600 * time.Second},
		{50, 2160 * time.Second},
		{100, 720 * time.Second},
		{-1, 3600 * time.Second},
		{150, 720 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("progress %d", tt.progress), func(t *testing.T) {
			assert.Equal(t, tt.want, SleepInterval(time.Hour, tt.progress))
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	m := New(nil, Config{}, WithLogger(logging.NewDiscard()))
	assert.Equal(t, DefaultConfig(), m.cfg)
}

func TestWaitForTask(t *testing.T) {
	m, exec, sleeps := newTestMonitor(t, Config{StatusInterval: 100 * time.Second})

	gomock.InOrder(
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Requested", -1, 0), nil),
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Running", 50, 0), nil),
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil),
	)

	task, err := m.WaitForTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "Done", task.Status)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, []time.Duration{100 * time.Second, 60 * time.Second}, sleeps.all())
}

func TestWaitForTaskAborted(t *testing.T) {
	for _, status := range []string{StatusStopped, StatusInterrupted} {
		t.Run(status, func(t *testing.T) {
			m, exec, sleeps := newTestMonitor(t, DefaultConfig())
			exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse(status, 30, 0), nil)

			task, err := m.WaitForTask(context.Background(), taskID)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeTaskAborted))
			require.NotNil(t, task)
			assert.Equal(t, status, task.Status)
			assert.Empty(t, sleeps.all())
		})
	}
}

func TestWaitForTaskErrors(t *testing.T) {
	t.Run("command failure", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", gomock.Any()).
			Return(nil, errors.NewCommandError(errors.CodeExecution, "omp failed", "get_tasks"))

		_, err := m.WaitForTask(context.Background(), taskID)
		assert.True(t, errors.IsCode(err, errors.CodeExecution))
	})

	t.Run("missing task", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", gomock.Any()).
			Return([]byte(`<get_tasks_response status="200" status_text="OK"/>`), nil)

		_, err := m.WaitForTask(context.Background(), taskID)
		assert.True(t, errors.IsCode(err, errors.CodeUnexpected))
	})

	t.Run("context canceled while sleeping", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		ctx, cancel := context.WithCancel(context.Background())
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", gomock.Any()).
			DoAndReturn(func(context.Context, string, []byte) ([]byte, error) {
				cancel()
				return taskResponse("Running", 10, 0), nil
			})

		_, err := m.WaitForTask(ctx, taskID)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLastReports(t *testing.T) {
	filter := "task_id=" + taskID + " rows=1000"

	t.Run("single report", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		gomock.InOrder(
			exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil),
			exec.EXPECT().Execute(gomock.Any(), "get_reports",
				[]byte(`<get_reports report_id="`+lastReport+`" filter="`+filter+`"></get_reports>`)).
				Return([]byte(`<get_reports_response status="200" status_text="OK"><report id="`+lastReport+`"/></get_reports_response>`), nil),
		)

		resp, err := m.LastReports(context.Background(), taskID)
		require.NoError(t, err)
		assert.Equal(t, lastReport, resp.Root.AttrAt("report", "id"))
	})

	t.Run("delta against second last report", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		gomock.InOrder(
			exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 3), nil),
			exec.EXPECT().Execute(gomock.Any(), "get_reports",
				[]byte(`<get_reports report_id="`+secondLastRept+`" filter="`+filter+`" delta_report_id="`+lastReport+`"></get_reports>`)).
				Return([]byte(`<get_reports_response status="200" status_text="OK"/>`), nil),
		)

		_, err := m.LastReports(context.Background(), taskID)
		require.NoError(t, err)
	})

	t.Run("custom rows", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, Config{ReportRows: 50})
		gomock.InOrder(
			exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil),
			exec.EXPECT().Execute(gomock.Any(), "get_reports",
				[]byte(`<get_reports report_id="`+lastReport+`" filter="task_id=`+taskID+` rows=50"></get_reports>`)).
				Return([]byte(`<get_reports_response status="200" status_text="OK"/>`), nil),
		)

		_, err := m.LastReports(context.Background(), taskID)
		require.NoError(t, err)
	})

	t.Run("no report yet", func(t *testing.T) {
		m, exec, _ := newTestMonitor(t, DefaultConfig())
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).
			Return([]byte(`<get_tasks_response status="200"><task id="`+taskID+`"><status>New</status></task></get_tasks_response>`), nil)

		_, err := m.LastReports(context.Background(), taskID)
		assert.True(t, errors.IsCode(err, errors.CodeUnexpected))
	})
}

func TestReportWhenDone(t *testing.T) {
	m, exec, sleeps := newTestMonitor(t, DefaultConfig())
	gomock.InOrder(
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Running", 90, 0), nil),
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil),
		exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil),
		exec.EXPECT().Execute(gomock.Any(), "get_reports", gomock.Any()).
			Return([]byte(`<get_reports_response status="200" status_text="OK"/>`), nil),
	)

	resp, err := m.ReportWhenDone(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "get_reports_response", resp.Root.Name())
	require.Len(t, sleeps.all(), 1)
}

func testReceiver(t *testing.T) (*webhook.Receiver, string) {
	t.Helper()
	cfg := webhook.DefaultConfig()
	cfg.Port = 0
	r := webhook.New(cfg, webhook.WithLogger(logging.NewDiscard()), webhook.WithMetrics(metrics.NewPrometheusMetrics()))
	addr, err := r.Listen()
	require.NoError(t, err)
	return r, "http://" + addr.String()
}

func TestWaitForCompletionWebhookFirst(t *testing.T) {
	m, exec, _ := newTestMonitor(t, DefaultConfig())
	receiver, base := testReceiver(t)

	polled := make(chan struct{})
	var once sync.Once
	exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).
		DoAndReturn(func(context.Context, string, []byte) ([]byte, error) {
			once.Do(func() { close(polled) })
			return taskResponse("Running", 20, 0), nil
		}).MinTimes(1)
	m.sleep = sleepContext

	go func() {
		<-polled
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
		resp, err := client.Get(base + "/task_done")
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}()

	c, err := m.WaitForCompletion(context.Background(), taskID, receiver)
	require.NoError(t, err)
	assert.Equal(t, SourceWebhook, c.Source)
	require.NotNil(t, c.Notification)
	assert.Equal(t, "/task_done", c.Notification.Path)
	assert.Nil(t, c.Task)
}

func TestWaitForCompletionPollFirst(t *testing.T) {
	m, exec, _ := newTestMonitor(t, DefaultConfig())
	receiver, _ := testReceiver(t)

	exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Done", -1, 1), nil)

	c, err := m.WaitForCompletion(context.Background(), taskID, receiver)
	require.NoError(t, err)
	assert.Equal(t, SourcePoll, c.Source)
	require.NotNil(t, c.Task)
	assert.Equal(t, "Done", c.Task.Status)
}

func TestWaitForCompletionPollError(t *testing.T) {
	m, exec, _ := newTestMonitor(t, DefaultConfig())
	receiver, _ := testReceiver(t)

	exec.EXPECT().Execute(gomock.Any(), "get_tasks", getTasksRequest).Return(taskResponse("Stopped", 40, 0), nil)

	_, err := m.WaitForCompletion(context.Background(), taskID, receiver)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTaskAborted))
}
