package webhook

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type waitResult struct {
	n   *Notification
	err error
}

func startReceiver(t *testing.T, ctx context.Context, cfg Config, m *metrics.PrometheusMetrics) (string, <-chan waitResult) {
	t.Helper()
	r := New(cfg, WithLogger(logging.NewDiscard()), WithMetrics(m))
	addr, err := r.Listen()
	require.NoError(t, err)

	done := make(chan waitResult, 1)
	go func() {
		n, err := r.Wait(ctx)
		done <- waitResult{n, err}
	}()
	return "http://" + addr.String(), done
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	return cfg
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   5 * time.Second,
	}
	defer client.CloseIdleConnections()

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func await(t *testing.T, done <-chan waitResult) waitResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not return")
		return waitResult{}
	}
}

func TestReceiverAlert(t *testing.T) {
	m := metrics.NewPrometheusMetrics()
	base, done := startReceiver(t, context.Background(), testConfig(), m)

	status, _, _ := get(t, base+"/favicon.ico")
	assert.Equal(t, http.StatusNotFound, status)

	status, body, header := get(t, base+"/scanner/task_done?task=abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alert received. Task completed.", body)
	assert.Equal(t, "text/html", header.Get("Content-Type"))

	res := await(t, done)
	require.NoError(t, res.err)
	require.NotNil(t, res.n)
	assert.Equal(t, "/scanner/task_done", res.n.Path)
	assert.Equal(t, "abc", res.n.Query.Get("task"))
	assert.True(t, strings.HasPrefix(res.n.RemoteAddr, "127.0.0.1:"))
	assert.False(t, res.n.ReceivedAt.IsZero())

	expected := `
# HELP openvas_connector_webhook_requests_total Requests received by the alert listener, split by whether they matched the alert path
# TYPE openvas_connector_webhook_requests_total counter
openvas_connector_webhook_requests_total{matched="false"} 1
openvas_connector_webhook_requests_total{matched="true"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.GetRegistry(), strings.NewReader(expected),
		"openvas_connector_webhook_requests_total"))
}

func TestReceiverStopsServing(t *testing.T) {
	base, done := startReceiver(t, context.Background(), testConfig(), metrics.NewPrometheusMetrics())

	status, _, _ := get(t, base+"/task_done")
	require.Equal(t, http.StatusOK, status)
	res := await(t, done)
	require.NoError(t, res.err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	_, err := client.Get(base + "/task_done")
	assert.Error(t, err)
}

func TestReceiverContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, done := startReceiver(t, ctx, testConfig(), metrics.NewPrometheusMetrics())

	cancel()
	res := await(t, done)
	assert.Nil(t, res.n)
	assert.ErrorIs(t, res.err, context.Canceled)
}

func TestReceiverMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.ExposeMetrics = true
	m := metrics.NewPrometheusMetrics()
	m.IncrementCommands("get_tasks", "success")

	ctx, cancel := context.WithCancel(context.Background())
	base, done := startReceiver(t, ctx, cfg, m)

	status, body, _ := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "openvas_connector_omp_commands_total")

	cancel()
	await(t, done)
}

func TestReceiverMetricsDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base, done := startReceiver(t, ctx, testConfig(), metrics.NewPrometheusMetrics())

	status, _, _ := get(t, base+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)

	cancel()
	await(t, done)
}

func TestReceiverListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	_, err = WaitForHTTPAlert(context.Background(), Config{Host: "127.0.0.1", Port: port, Path: "/task_done"},
		WithLogger(logging.NewDiscard()), WithMetrics(metrics.NewPrometheusMetrics()))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeListen), "got %v", err)
}

func TestConfigAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8081", DefaultConfig().Address())
	assert.Equal(t, "[::1]:9000", Config{Host: "::1", Port: 9000}.Address())
}
