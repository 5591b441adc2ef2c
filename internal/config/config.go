// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable that overrides a
// configuration key (GATECHECK_WAIT_STEP_TIMEOUT and so on).
const EnvPrefix = "GATECHECK"

// Driver names accepted by browser.driver.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Reset modes accepted by runner.reset_mode.
const (
	ResetNavigate     = "navigate"
	ResetFreshSession = "fresh_session"
)

// Interface defines the contract for accessing application configuration.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Wait() WaitConfig
	Artifacts() ArtifactsConfig
	Runner() RunnerConfig
	Database() DatabaseConfig

	SetBrowserDriver(string)
	SetBrowserHeadless(bool)
	SetRunnerResetMode(string)
	SetArtifactsDir(string)
	SetDatabasePersist(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	WaitCfg      WaitConfig      `mapstructure:"wait" yaml:"wait"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	RunnerCfg    RunnerConfig    `mapstructure:"runner" yaml:"runner"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
}

// -- Getters --

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Wait() WaitConfig           { return c.WaitCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Runner() RunnerConfig       { return c.RunnerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }

// -- Setters (CLI flag overrides) --

func (c *Config) SetBrowserDriver(d string)   { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetRunnerResetMode(m string) { c.RunnerCfg.ResetMode = m }
func (c *Config) SetArtifactsDir(d string)    { c.ArtifactsCfg.Dir = d }
func (c *Config) SetDatabasePersist(b bool)   { c.DatabaseCfg.Persist = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to color names for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how browser sessions are launched.
type BrowserConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// InstallDriver lets the playwright driver download its browsers on first launch.
	InstallDriver bool `mapstructure:"install_driver" yaml:"install_driver"`
	// DownloadDir receives files the page downloads. Empty leaves downloads
	// to the browser's defaults.
	DownloadDir string `mapstructure:"download_dir" yaml:"download_dir"`
}

// WaitConfig holds the polling parameters shared by steps and classification.
type WaitConfig struct {
	StepTimeout   time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	SignalTimeout time.Duration `mapstructure:"signal_timeout" yaml:"signal_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// ActionTimeout bounds a single browser action such as a page load or
	// a click.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// ArtifactsConfig controls screenshot capture on failing rows.
type ArtifactsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// RunnerConfig controls scenario execution.
type RunnerConfig struct {
	ResetMode string `mapstructure:"reset_mode" yaml:"reset_mode"`
	// RowsPerSecond paces row starts. Zero disables pacing.
	RowsPerSecond float64 `mapstructure:"rows_per_second" yaml:"rows_per_second"`
}

// DatabaseConfig enables persisting run reports to PostgreSQL.
type DatabaseConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Persist bool   `mapstructure:"persist" yaml:"persist"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gatecheck")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{
		"--start-maximized",
		"--disable-notifications",
		"--disable-popup-blocking",
	})
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.install_driver", false)
	v.SetDefault("browser.download_dir", "downloads")

	// -- Wait --
	v.SetDefault("wait.step_timeout", "10s")
	v.SetDefault("wait.signal_timeout", "3s")
	v.SetDefault("wait.poll_interval", "250ms")
	v.SetDefault("wait.action_timeout", "30s")

	// -- Artifacts --
	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.dir", "screenshots")

	// -- Runner --
	v.SetDefault("runner.reset_mode", ResetNavigate)
	v.SetDefault("runner.rows_per_second", 0)

	// -- Database --
	v.SetDefault("database.persist", false)
}

// BindEnv wires environment overrides onto v using the GATECHECK_ prefix.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows about.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("browser.exec_path", EnvPrefix+"_BROWSER_EXEC_PATH")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ArtifactsCfg.Dir != "" {
		dir, err := homedir.Expand(cfg.ArtifactsCfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand artifacts.dir: %w", err)
		}
		cfg.ArtifactsCfg.Dir = dir
	}
	if cfg.BrowserCfg.DownloadDir != "" {
		dir, err := homedir.Expand(cfg.BrowserCfg.DownloadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand browser.download_dir: %w", err)
		}
		cfg.BrowserCfg.DownloadDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverPlaywright, c.BrowserCfg.Driver)
	}
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait configuration invalid: %w", err)
	}
	switch c.RunnerCfg.ResetMode {
	case ResetNavigate, ResetFreshSession:
	default:
		return fmt.Errorf("runner.reset_mode must be %q or %q, got %q", ResetNavigate, ResetFreshSession, c.RunnerCfg.ResetMode)
	}
	if c.RunnerCfg.RowsPerSecond < 0 {
		return fmt.Errorf("runner.rows_per_second must not be negative")
	}
	if c.ArtifactsCfg.Enabled && c.ArtifactsCfg.Dir == "" {
		return fmt.Errorf("artifacts.dir is required when artifacts are enabled")
	}
	if c.DatabaseCfg.Persist && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when database.persist is set")
	}
	return nil
}

// Validate checks the polling parameters. Classification signals must be
// probed with a shorter timeout than ordinary steps.
func (w *WaitConfig) Validate() error {
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if w.StepTimeout < w.PollInterval {
		return fmt.Errorf("step_timeout (%s) must be at least poll_interval (%s)", w.StepTimeout, w.PollInterval)
	}
	if w.SignalTimeout < w.PollInterval {
		return fmt.Errorf("signal_timeout (%s) must be at least poll_interval (%s)", w.SignalTimeout, w.PollInterval)
	}
	if w.SignalTimeout >= w.StepTimeout {
		return fmt.Errorf("signal_timeout (%s) must be shorter than step_timeout (%s)", w.SignalTimeout, w.StepTimeout)
	}
	if w.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	return nil
}
