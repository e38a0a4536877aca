// Package webhook runs the short-lived HTTP listener that receives the
// scanner's "HTTP Get" alert when a task finishes.
package webhook

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/metrics"
)

// Response sent to the scanner for a matched alert.
const (
	alertBody        = "Alert received. Task completed."
	alertContentType = "text/html"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config holds listener settings.
type Config struct {
	Host string
	Port int

	// Path is the suffix a request path must end with to count as the alert.
	Path string

	// ExposeMetrics serves the Prometheus registry on /metrics while waiting.
	ExposeMetrics bool
}

// DefaultConfig returns the listener defaults: 127.0.0.1:8081, /task_done.
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 8081,
		Path: "/task_done",
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Notification describes the request that delivered the alert.
type Notification struct {
	Path       string
	Query      url.Values
	RemoteAddr string
	ReceivedAt time.Time
}

// Receiver waits for a single alert request.
type Receiver struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	server   *http.Server
	listener net.Listener
	notify   chan *Notification
	once     sync.Once
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the receiver logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink, which is also what /metrics serves.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(r *Receiver) {
		r.metrics = m
	}
}

// New creates a receiver. Empty host, port 0 and an empty path are allowed;
// an empty path matches every GET request.
func New(cfg Config, opts ...Option) *Receiver {
	r := &Receiver{
		cfg:     cfg,
		logger:  logging.Default(),
		metrics: metrics.GetGlobalMetrics(),
		notify:  make(chan *Notification, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("webhook")

	r.server = &http.Server{
		Handler:           r.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		// Scanner traffic on the port would otherwise end up in the log.
		ErrorLog: log.New(io.Discard, "", 0),
	}
	return r
}

func (r *Receiver) routes() http.Handler {
	router := mux.NewRouter()

	if r.cfg.ExposeMetrics {
		router.Handle("/metrics", r.metrics.Handler()).Methods(http.MethodGet)
	}

	router.MatcherFunc(r.matchAlert).Methods(http.MethodGet).HandlerFunc(r.handleAlert)
	router.NotFoundHandler = http.HandlerFunc(r.handleNotFound)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{r.logger}),
		handlers.PrintRecoveryStack(false),
	)(router)
}

func (r *Receiver) matchAlert(req *http.Request, _ *mux.RouteMatch) bool {
	return strings.HasSuffix(req.URL.Path, r.cfg.Path)
}

func (r *Receiver) handleAlert(w http.ResponseWriter, req *http.Request) {
	r.metrics.IncrementWebhookRequests(true)

	w.Header().Set("Content-Type", alertContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, alertBody); err != nil {
		r.logger.Debug("Failed to write alert response", "error", err)
	}

	n := &Notification{
		Path:       req.URL.Path,
		Query:      req.URL.Query(),
		RemoteAddr: req.RemoteAddr,
		ReceivedAt: time.Now(),
	}
	r.once.Do(func() {
		r.notify <- n
	})
}

func (r *Receiver) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	r.metrics.IncrementWebhookRequests(false)
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

// Listen binds the configured address and returns the bound address, which
// differs from the configured one when port 0 was requested.
func (r *Receiver) Listen() (net.Addr, error) {
	if r.listener != nil {
		return r.listener.Addr(), nil
	}
	addr := r.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.ErrListen(addr, err)
	}
	r.listener = ln
	r.logger.Debug("Alert listener bound", "address", ln.Addr().String(), "path", r.cfg.Path)
	return ln.Addr(), nil
}

// Wait serves until the alert arrives or ctx is done. The listener is bound
// first if Listen has not been called. A Receiver is single use.
func (r *Receiver) Wait(ctx context.Context) (*Notification, error) {
	if _, err := r.Listen(); err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(r.listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	r.logger.Info("Waiting for task alert", "address", r.listener.Addr().String(), "path", r.cfg.Path)

	select {
	case n := <-r.notify:
		r.shutdown()
		r.logger.Info("Task alert received", "path", n.Path, "remote_addr", n.RemoteAddr)
		return n, nil
	case err := <-errCh:
		return nil, errors.ErrListen(r.listener.Addr().String(), err)
	case <-ctx.Done():
		r.shutdown()
		return nil, ctx.Err()
	}
}

func (r *Receiver) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Warn("Alert listener shutdown error", "error", err)
		_ = r.server.Close()
	}
}

// WaitForHTTPAlert binds cfg and blocks until the alert arrives.
func WaitForHTTPAlert(ctx context.Context, cfg Config, opts ...Option) (*Notification, error) {
	return New(cfg, opts...).Wait(ctx)
}

type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Alert handler panic", "panic", fmt.Sprint(v...))
}
