package logging

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFileLogger(t *testing.T, format LogFormat, level LogLevel) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "logs", "connector.log")
	logger, err := New(Config{Level: level, Format: format, Output: logFile})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, logFile
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got '%s'", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestNewLogger(t *testing.T) {
	outputs := []string{"stdout", "stderr"}
	for _, out := range outputs {
		t.Run(out, func(t *testing.T) {
			logger, err := New(Config{Level: LevelWarn, Format: FormatJSON, Output: out})
			if err != nil {
				t.Fatalf("Failed to create logger: %v", err)
			}
			if logger == nil {
				t.Fatal("Logger should not be nil")
			}
		})
	}

	t.Run("file output creates directory", func(t *testing.T) {
		logger, logFile := newFileLogger(t, FormatText, LevelInfo)
		logger.Info("hello")
		if _, err := os.Stat(filepath.Dir(logFile)); err != nil {
			t.Fatalf("Expected log directory to exist: %v", err)
		}
		if !strings.Contains(readLog(t, logFile), "hello") {
			t.Error("Expected message in log file")
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	logger, logFile := newFileLogger(t, FormatText, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := readLog(t, logFile)
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below warn should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("Expected warn and error messages, got: %s", output)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	logger, logFile := newFileLogger(t, FormatText, LogLevel("verbose"))

	logger.Debug("hidden")
	logger.Info("shown")

	output := readLog(t, logFile)
	if strings.Contains(output, "hidden") {
		t.Error("Debug should be filtered with fallback level")
	}
	if !strings.Contains(output, "shown") {
		t.Error("Info should be logged with fallback level")
	}
}

func TestCommandAndTaskHelpers(t *testing.T) {
	logger, logFile := newFileLogger(t, FormatJSON, LevelDebug)

	logger.WithComponent("omp").InfoCommand("command sent", "get_tasks", "bytes", 42)
	logger.ErrorCommand("command failed", "start_task", errors.New("exit status 1"))
	logger.WithTaskID("abc").Info("polling")
	logger.ErrorTask("task aborted", "def", errors.New("stopped"))

	lines := strings.Split(strings.TrimSpace(readLog(t, logFile)), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 log lines, got %d", len(lines))
	}

	records := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("Invalid JSON log line %q: %v", line, err)
		}
		records = append(records, rec)
	}

	if records[0]["component"] != "omp" || records[0]["command"] != "get_tasks" {
		t.Errorf("Unexpected first record: %v", records[0])
	}
	if records[1]["error"] != "exit status 1" || records[1]["level"] != "ERROR" {
		t.Errorf("Unexpected second record: %v", records[1])
	}
	if records[2]["task_id"] != "abc" {
		t.Errorf("Unexpected third record: %v", records[2])
	}
	if records[3]["task_id"] != "def" {
		t.Errorf("Unexpected fourth record: %v", records[3])
	}
}

func TestSetAndGetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	logger, logFile := newFileLogger(t, FormatText, LevelInfo)
	SetDefault(logger)

	if Default() != logger {
		t.Fatal("Default should return the logger that was set")
	}

	Info("global info")
	InfoTask("global task", "t-1")
	Warn("global warn")

	output := readLog(t, logFile)
	for _, want := range []string{"global info", "task_id=t-1", "global warn"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output: %s", want, output)
		}
	}
}

func TestNewDiscard(t *testing.T) {
	logger := NewDiscard()
	if logger == nil {
		t.Fatal("NewDiscard returned nil")
	}
	// Must not panic.
	logger.WithCommand("get_tasks").Error("dropped")
}
