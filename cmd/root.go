// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/observability"
)

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	cfg config.Interface
}

// NewRootCommand builds the gatecheck command tree.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile string
		envFile string
	)
	state := &app{}

	rootCmd := &cobra.Command{
		Use:           "gatecheck",
		Short:         "Gatecheck drives data-driven acceptance tests through a real browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, cfgFile, envFile)
			if err != nil {
				// Errors still need somewhere to go.
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return err
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("driver", cfg.Browser().Driver),
				zap.String("reset_mode", cfg.Runner().ResetMode),
			)
			state.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./gatecheck.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration (missing file is ignored)")
	flags.String("driver", "", "browser driver: chromedp or playwright")
	flags.Bool("headless", true, "run the browser without a visible window")
	flags.String("reset", "", "reset mode between rows: navigate or fresh_session")
	flags.String("artifacts-dir", "", "directory for failure screenshots")
	flags.Bool("persist", false, "store the run report in PostgreSQL")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(
		newRunCmd(state),
		newValidateCmd(),
		newHistoryCmd(state),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with ctx and logs any failure.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		return err
	}
	return nil
}

// loadConfig layers defaults, an optional config file, the environment
// (after the dotenv file) and finally explicitly set flags.
func loadConfig(cmd *cobra.Command, cfgFile, envFile string) (*config.Config, error) {
	if envFile != "" {
		path, err := homedir.Expand(envFile)
		if err != nil {
			return nil, err
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("gatecheck")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("driver") {
		d, _ := flags.GetString("driver")
		cfg.SetBrowserDriver(d)
	}
	if flags.Changed("headless") {
		h, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(h)
	}
	if flags.Changed("reset") {
		m, _ := flags.GetString("reset")
		cfg.SetRunnerResetMode(m)
	}
	if flags.Changed("artifacts-dir") {
		d, _ := flags.GetString("artifacts-dir")
		dir, err := homedir.Expand(d)
		if err != nil {
			return err
		}
		cfg.SetArtifactsDir(dir)
	}
	if flags.Changed("persist") {
		p, _ := flags.GetBool("persist")
		cfg.SetDatabasePersist(p)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flag overrides: %w", err)
	}
	return nil
}
