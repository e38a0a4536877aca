// Package config loads and validates openvas-connector configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/omp"
)

// Config represents the complete connector configuration
type Config struct {
	// OMP client invocation
	OMP OMPConfig `yaml:"omp" json:"omp"`

	// Alert webhook listener
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`

	// Task status polling
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Recurring task starts
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// OMPConfig holds settings for the external omp command-line client
type OMPConfig struct {
	// Path or name of the omp executable
	Binary string `yaml:"binary" json:"binary"`

	// Manager host and port; empty values let omp use its own defaults
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Credentials passed with -u / -w
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// omp.config file passed with --config-file
	ConfigFile string `yaml:"config_file" json:"config_file"`

	// Upper bound for a single omp invocation, 0 disables it
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Command submission rate, 0 means unlimited
	MaxCommandsPerSecond float64 `yaml:"max_commands_per_second" json:"max_commands_per_second"`

	// File receiving the last command and its pretty-printed response
	TranscriptFile string `yaml:"transcript_file" json:"transcript_file"`
}

// WebhookConfig holds settings for the alert listener
type WebhookConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Request path suffix that marks the alert. HTTP alerts created by the
	// connector always call <callback_url>/task_done, so the path must end
	// in /task_done.
	Path string `yaml:"path" json:"path"`

	// URL the scanner should call; derived from host and port when empty
	CallbackURL string `yaml:"callback_url" json:"callback_url"`

	// Serve /metrics on the listener while it waits
	ExposeMetrics bool `yaml:"expose_metrics" json:"expose_metrics"`
}

// MonitorConfig holds task polling settings
type MonitorConfig struct {
	// Base status interval; the actual sleep shrinks as progress grows
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval"`

	// Rows requested when fetching the final reports
	ReportRows int `yaml:"report_rows" json:"report_rows"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// ScheduleConfig describes a task started on a cron expression
type ScheduleConfig struct {
	Name   string `yaml:"name" json:"name"`
	Cron   string `yaml:"cron" json:"cron"`
	TaskID string `yaml:"task_id" json:"task_id"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		OMP: OMPConfig{
			Binary:               "omp",
			Timeout:              10 * time.Minute,
			MaxCommandsPerSecond: 0,
		},
		Webhook: WebhookConfig{
			Host: "127.0.0.1",
			Port: 8081,
			Path: omp.TaskDonePath,
		},
		Monitor: MonitorConfig{
			StatusInterval: time.Hour,
			ReportRows:     1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON, so .json files decode the same way
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Credentials may be present
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OMP.Binary == "" {
		return errors.ErrConfigMissing("omp.binary")
	}
	if c.OMP.Port < 0 || c.OMP.Port > 65535 {
		return errors.ErrConfigInvalid("omp.port", c.OMP.Port)
	}
	if c.OMP.Timeout < 0 {
		return errors.ErrConfigInvalid("omp.timeout", c.OMP.Timeout)
	}
	if c.OMP.MaxCommandsPerSecond < 0 {
		return errors.ErrConfigInvalid("omp.max_commands_per_second", c.OMP.MaxCommandsPerSecond)
	}

	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return errors.ErrConfigInvalid("webhook.port", c.Webhook.Port)
	}
	if !strings.HasSuffix(c.Webhook.Path, omp.TaskDonePath) {
		return errors.ErrConfigInvalid("webhook.path", c.Webhook.Path)
	}
	if c.Webhook.CallbackURL != "" {
		if _, err := url.ParseRequestURI(c.Webhook.CallbackURL); err != nil {
			return errors.ErrConfigInvalid("webhook.callback_url", c.Webhook.CallbackURL)
		}
	}

	if c.Monitor.StatusInterval <= 0 {
		return errors.ErrConfigInvalid("monitor.status_interval", c.Monitor.StatusInterval)
	}
	if c.Monitor.ReportRows <= 0 {
		return errors.ErrConfigInvalid("monitor.report_rows", c.Monitor.ReportRows)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	for i, s := range c.Schedules {
		if s.Cron == "" {
			return errors.ErrConfigMissing(fmt.Sprintf("schedules[%d].cron", i))
		}
		if s.TaskID == "" {
			return errors.ErrConfigMissing(fmt.Sprintf("schedules[%d].task_id", i))
		}
	}

	return nil
}

// GetWebhookAddress returns the listen address of the alert listener
func (c *Config) GetWebhookAddress() string {
	return fmt.Sprintf("%s:%d", c.Webhook.Host, c.Webhook.Port)
}

// GetCallbackURL returns the base URL the scanner's HTTP Get alert should call
func (c *Config) GetCallbackURL() string {
	if c.Webhook.CallbackURL != "" {
		return c.Webhook.CallbackURL
	}
	return "http://" + c.GetWebhookAddress()
}
