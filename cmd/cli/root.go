// Package cli provides the command-line interface of openvas-connector.
// This package implements the Cobra-based command tree for managing
// targets, tasks, alerts and reports on an OpenVAS manager through omp.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/errors"
	"github.com/anstrom/openvas-connector/internal/logging"
)

const envPrefix = "OPENVAS_CONNECTOR"

var (
	cfgFile   string
	verbose   bool
	xmlOutput bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "openvas-connector",
	Short: "OpenVAS management protocol client",
	Long: `openvas-connector drives an OpenVAS manager through the omp command-line
client. It creates targets, tasks and alerts, starts and stops scans,
waits for them to finish and fetches their reports.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode returns 2 for errors no retry can fix, such as a missing omp
// binary or a broken config, and 1 otherwise.
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return 2
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&xmlOutput, "xml", false, "print the pretty-printed XML response instead of a table")

	flags.String("omp-binary", "", "path of the omp client")
	flags.String("host", "", "manager host")
	flags.Int("port", 0, "manager port")
	flags.StringP("username", "u", "", "manager user name")
	flags.StringP("password", "w", "", "manager password")
	flags.String("omp-config", "", "omp.config file passed to omp")
	flags.Duration("timeout", 0, "upper bound for a single omp invocation")
	flags.String("transcript", "", "write the last command and its response to this file")

	// Bind flags to viper
	bindFlag("verbose", "verbose")
	bindFlag("omp.binary", "omp-binary")
	bindFlag("omp.host", "host")
	bindFlag("omp.port", "port")
	bindFlag("omp.username", "username")
	bindFlag("omp.password", "password")
	bindFlag("omp.config_file", "omp-config")
	bindFlag("omp.timeout", "timeout")
	bindFlag("omp.transcript_file", "transcript")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match, e.g. OPENVAS_CONNECTOR_OMP_PASSWORD
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Initialize structured logging after config is loaded
	initLogging()
}

// getConfigFilePath returns the config file in use, falling back to
// ./config.yaml.
func getConfigFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return "config.yaml"
}

// loadConfig loads the config file and applies flag and environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies values that were set through flags, environment or
// the viper-read config file into cfg. Keys that are not set keep the
// values from config.Load. Schedules are only read from the file.
func applyOverrides(cfg *config.Config) {
	overrideString("omp.binary", &cfg.OMP.Binary)
	overrideString("omp.host", &cfg.OMP.Host)
	overrideInt("omp.port", &cfg.OMP.Port)
	overrideString("omp.username", &cfg.OMP.Username)
	overrideString("omp.password", &cfg.OMP.Password)
	overrideString("omp.config_file", &cfg.OMP.ConfigFile)
	overrideDuration("omp.timeout", &cfg.OMP.Timeout)
	overrideFloat("omp.max_commands_per_second", &cfg.OMP.MaxCommandsPerSecond)
	overrideString("omp.transcript_file", &cfg.OMP.TranscriptFile)

	overrideString("webhook.host", &cfg.Webhook.Host)
	overrideInt("webhook.port", &cfg.Webhook.Port)
	overrideString("webhook.path", &cfg.Webhook.Path)
	overrideString("webhook.callback_url", &cfg.Webhook.CallbackURL)
	if viper.IsSet("webhook.expose_metrics") {
		cfg.Webhook.ExposeMetrics = viper.GetBool("webhook.expose_metrics")
	}

	overrideDuration("monitor.status_interval", &cfg.Monitor.StatusInterval)
	overrideInt("monitor.report_rows", &cfg.Monitor.ReportRows)

	overrideString("logging.level", &cfg.Logging.Level)
	overrideString("logging.format", &cfg.Logging.Format)
	overrideString("logging.output", &cfg.Logging.Output)
}

// Zero values never replace a value from the config file.

func overrideString(key string, dst *string) {
	if viper.IsSet(key) && viper.GetString(key) != "" {
		*dst = viper.GetString(key)
	}
}

func overrideInt(key string, dst *int) {
	if viper.IsSet(key) && viper.GetInt(key) != 0 {
		*dst = viper.GetInt(key)
	}
}

func overrideFloat(key string, dst *float64) {
	if viper.IsSet(key) && viper.GetFloat64(key) != 0 {
		*dst = viper.GetFloat64(key)
	}
}

func overrideDuration(key string, dst *time.Duration) {
	if viper.IsSet(key) && viper.GetDuration(key) != 0 {
		*dst = viper.GetDuration(key)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		// If config loading fails, use default logging
		logging.SetDefault(logging.NewDefault())
		return
	}
	applyOverrides(cfg)

	level := cfg.Logging.Level
	if verbose {
		level = string(logging.LevelDebug)
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == string(logging.LevelDebug),
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", level, "format", cfg.Logging.Format)
	}
}
