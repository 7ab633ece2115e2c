package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/funai-studio/runtime-agent/common/version"
	"github.com/funai-studio/runtime-agent/internal/agent/app"
	"github.com/funai-studio/runtime-agent/internal/agent/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent HTTP server and node heartbeat",
	Long: `Start the agent HTTP API on RUNTIME_AGENT_HOST:RUNTIME_AGENT_PORT.

Requires RUNTIME_AGENT_TOKEN. Heartbeats are sent when DEPLOY_BASE_URL,
DEPLOY_NODE_TOKEN and both node base URLs are set. The cleanup and
database explorer endpoints are enabled when RUNTIME_MONGO_HOST is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting runtime agent", "version", version.Version, "commit", version.GitCommit)

	a, err := app.New(cfg, config.ModeServe)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer a.Stop()

	return a.Run(cmd.Context())
}
