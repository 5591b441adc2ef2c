// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "gatecheck", cfg.Logger().ServiceName)
	assert.Equal(t, DriverChromedp, cfg.Browser().Driver)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, []string{"--start-maximized", "--disable-notifications", "--disable-popup-blocking"}, cfg.Browser().Args)
	assert.Equal(t, 30*time.Second, cfg.Browser().LaunchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Wait().StepTimeout)
	assert.Equal(t, 3*time.Second, cfg.Wait().SignalTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Wait().PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Wait().ActionTimeout)
	assert.Equal(t, "downloads", cfg.Browser().DownloadDir)
	assert.Equal(t, "screenshots", cfg.Artifacts().Dir)
	assert.True(t, cfg.Artifacts().Enabled)
	assert.Equal(t, ResetNavigate, cfg.Runner().ResetMode)
	assert.False(t, cfg.Database().Persist)

	assert.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.BrowserCfg.Driver = "selenium" }, "browser.driver must be"},
		{"zero launch timeout", func(c *Config) { c.BrowserCfg.LaunchTimeout = 0 }, "browser.launch_timeout must be a positive duration"},
		{"zero poll interval", func(c *Config) { c.WaitCfg.PollInterval = 0 }, "poll_interval must be a positive duration"},
		{"step shorter than interval", func(c *Config) { c.WaitCfg.StepTimeout = 100 * time.Millisecond }, "step_timeout"},
		{"signal not shorter than step", func(c *Config) { c.WaitCfg.SignalTimeout = c.WaitCfg.StepTimeout }, "must be shorter than step_timeout"},
		{"zero action timeout", func(c *Config) { c.WaitCfg.ActionTimeout = 0 }, "action_timeout must be a positive duration"},
		{"unknown reset mode", func(c *Config) { c.RunnerCfg.ResetMode = "reload" }, "runner.reset_mode must be"},
		{"negative pacing", func(c *Config) { c.RunnerCfg.RowsPerSecond = -1 }, "runner.rows_per_second must not be negative"},
		{"artifacts without dir", func(c *Config) { c.ArtifactsCfg.Dir = "" }, "artifacts.dir is required"},
		{"persist without url", func(c *Config) { c.DatabaseCfg.Persist = true }, "database.url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("disabled artifacts need no dir", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ArtifactsCfg.Enabled = false
		cfg.ArtifactsCfg.Dir = ""
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  driver: playwright
  headless: false
wait:
  step_timeout: 20s
  signal_timeout: 5s
runner:
  reset_mode: fresh_session
  rows_per_second: 0.5
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, 20*time.Second, cfg.Wait().StepTimeout)
		assert.Equal(t, 5*time.Second, cfg.Wait().SignalTimeout)
		assert.Equal(t, ResetFreshSession, cfg.Runner().ResetMode)
		assert.Equal(t, 0.5, cfg.Runner().RowsPerSecond)
		// Untouched keys keep their defaults.
		assert.Equal(t, 250*time.Millisecond, cfg.Wait().PollInterval)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("runner.reset_mode", "reload")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		t.Setenv("GATECHECK_WAIT_STEP_TIMEOUT", "15s")
		t.Setenv("GATECHECK_DATABASE_URL", "postgres://envvar/db")
		t.Setenv("GATECHECK_DATABASE_PERSIST", "true")

		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("database:\n  url: postgres://configfile/db\n")))
		BindEnv(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 15*time.Second, cfg.Wait().StepTimeout)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL, "env must override the config file")
		assert.True(t, cfg.Database().Persist)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("artifacts.dir", "~/gatecheck-shots")
		v.Set("browser.download_dir", "~/gatecheck-downloads")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, home+"/gatecheck-shots", cfg.Artifacts().Dir)
		assert.Equal(t, home+"/gatecheck-downloads", cfg.Browser().DownloadDir)
	})
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()

	cfg.SetBrowserDriver(DriverPlaywright)
	cfg.SetBrowserHeadless(false)
	cfg.SetRunnerResetMode(ResetFreshSession)
	cfg.SetArtifactsDir("/tmp/shots")
	cfg.SetDatabasePersist(true)

	assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, ResetFreshSession, cfg.Runner().ResetMode)
	assert.Equal(t, "/tmp/shots", cfg.Artifacts().Dir)
	assert.True(t, cfg.Database().Persist)
}
