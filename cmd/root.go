package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

const envPrefix = "RESOLVE_AGENT"

var (
	cfgFile string
	envFile string
)

// newRootCmd builds the command tree. Every subcommand receives the loaded
// config through its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "resolve-agent",
		Short:         "Closed-loop color matching agent for DaVinci Resolve.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envFile); err != nil {
				return err
			}

			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "resolve-agent"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config, if present")

	cmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newModelsCmd(),
		newPingCmd(),
		newCalibrationCmd(),
		newLogsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command with ctx, which should be cancelled on SIGINT.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		observability.GetLogger().Error("Command failed.", zap.Error(err))
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file and binds the environment. A
// missing default config.yaml is not an error; a missing --config file is.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return bindFlags(cmd, v)
}

// flagKeys maps persistent command flags onto config keys.
var flagKeys = map[string]string{
	"model":       "llm.model",
	"endpoint":    "llm.endpoint",
	"headless":    "browser.headless",
	"remote-url":  "browser.remote_url",
	"target-url":  "browser.target_url",
	"fail-fast":   "executor.fail_fast",
	"addr":        "server.addr",
	"log-level":   "logger.level",
	"controllers": "calibration.controller_config_path",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// loadDotEnv loads path into the process environment. Existing variables win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
