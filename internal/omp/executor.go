package omp

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/anstrom/openvas-connector/internal/omp Executor

// Executor delivers a request document to the manager and returns the raw reply.
type Executor interface {
	Execute(ctx context.Context, command string, request []byte) ([]byte, error)
}

const (
	transcriptDirPerm  = 0o750
	transcriptFilePerm = 0o600
	maskedPassword     = "********"

	// Grace period for output pipes after the process is killed.
	waitDelay = 2 * time.Second
)

// ExecutorConfig configures CommandExecutor.
type ExecutorConfig struct {
	Binary     string
	Host       string
	Port       int
	Username   string
	Password   string
	ConfigFile string

	// Timeout bounds a single invocation; 0 leaves it to the caller's context.
	Timeout time.Duration

	// MaxCommandsPerSecond throttles submissions; 0 disables throttling.
	MaxCommandsPerSecond float64

	// TranscriptFile, when set, receives the last command line as an XML
	// comment followed by the pretty-printed reply.
	TranscriptFile string
}

// CommandExecutor runs the omp command-line client once per request.
type CommandExecutor struct {
	cfg     ExecutorConfig
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewCommandExecutor creates an executor for the given omp client settings.
func NewCommandExecutor(cfg ExecutorConfig, logger *logging.Logger) *CommandExecutor {
	if cfg.Binary == "" {
		cfg.Binary = "omp"
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &CommandExecutor{
		cfg:    cfg,
		logger: logger.WithComponent("omp"),
	}
	if cfg.MaxCommandsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxCommandsPerSecond), 1)
	}
	return e
}

// Args returns the omp arguments for a request. The document is passed as a
// single argument, so no shell quoting is involved.
func (e *CommandExecutor) Args(request []byte) []string {
	args := e.connectionArgs(e.cfg.Password)
	return append(args, "--pretty-print", "--xml="+string(request))
}

func (e *CommandExecutor) connectionArgs(password string) []string {
	var args []string
	if e.cfg.ConfigFile != "" {
		args = append(args, "--config-file="+e.cfg.ConfigFile)
	}
	if e.cfg.Host != "" {
		args = append(args, "-h", e.cfg.Host)
	}
	if e.cfg.Port > 0 {
		args = append(args, "-p", strconv.Itoa(e.cfg.Port))
	}
	if e.cfg.Username != "" {
		args = append(args, "-u", e.cfg.Username)
	}
	if password != "" {
		args = append(args, "-w", password)
	}
	return args
}

// CommandLine renders the invocation for logs and transcripts with the
// password masked.
func (e *CommandExecutor) CommandLine(request []byte) string {
	password := ""
	if e.cfg.Password != "" {
		password = maskedPassword
	}
	args := e.connectionArgs(password)
	args = append(args, "--pretty-print", "--xml='"+string(request)+"'")
	return e.cfg.Binary + " " + strings.Join(args, " ")
}

// Execute runs omp with the request and returns its standard output.
func (e *CommandExecutor) Execute(ctx context.Context, command string, request []byte) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, errors.WrapCommandError(errors.CodeCanceled, "rate limiter wait aborted", command, err)
		}
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	commandLine := e.CommandLine(request)
	e.logger.Debug("Running omp", "command", command, "command_line", commandLine)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, e.Args(request)...) //nolint:gosec // binary is operator configured
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		return nil, e.classify(ctx, command, err, stderr.String())
	}

	out := stdout.Bytes()
	if pretty, err := PrettyXML(out); err == nil {
		e.logger.Debug("omp response", "command", command, "response", string(pretty))
		if e.cfg.TranscriptFile != "" {
			if werr := e.writeTranscript(commandLine, pretty); werr != nil {
				e.logger.Warn("Failed to write transcript", "file", e.cfg.TranscriptFile, "error", werr)
			}
		}
	}

	return out, nil
}

func (e *CommandExecutor) classify(ctx context.Context, command string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.WrapCommandError(errors.CodeTimeout, "omp timed out", command, err)
	case stderrors.Is(ctx.Err(), context.Canceled):
		return errors.WrapCommandError(errors.CodeCanceled, "omp canceled", command, err)
	case stderrors.Is(err, exec.ErrNotFound), stderrors.Is(err, os.ErrNotExist):
		return errors.WrapCommandError(errors.CodeBinaryMissing,
			fmt.Sprintf("omp client %q not found", e.cfg.Binary), command, err)
	}

	cmdErr := errors.WrapCommandError(errors.CodeExecution, "omp failed", command, err).WithStderr(stderr)
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		cmdErr.WithExitCode(exitErr.ExitCode())
	}
	return cmdErr
}

// writeTranscript keeps only the most recent exchange.
func (e *CommandExecutor) writeTranscript(commandLine string, pretty []byte) error {
	if err := os.MkdirAll(filepath.Dir(e.cfg.TranscriptFile), transcriptDirPerm); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("<!--")
	// "--" is not allowed inside XML comments
	buf.WriteString(strings.ReplaceAll(commandLine, "--", "- -"))
	buf.WriteString("-->\n")
	buf.Write(pretty)
	return os.WriteFile(e.cfg.TranscriptFile, buf.Bytes(), transcriptFilePerm)
}
