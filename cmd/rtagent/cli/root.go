// Package cli implements the rtagent command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/funai-studio/runtime-agent/internal/agent/config"
	"github.com/funai-studio/runtime-agent/internal/agent/observability"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "rtagent",
	Short: "Runtime node agent for user application containers",
	Long: `rtagent runs on every runtime node. It deploys, stops and reports on
user application containers for the orchestrator, and removes databases
left behind by deleted applications.

Settings come from environment variables, optionally layered over a YAML
file named by --config or RUNTIME_AGENT_CONFIG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides "+config.FileEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides LOG_FORMAT)")
}

// loadConfig reads the configuration and installs the logger.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		if err := os.Setenv(config.FileEnv, configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
