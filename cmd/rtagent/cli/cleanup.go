package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/funai-studio/runtime-agent/internal/agent/app"
	"github.com/funai-studio/runtime-agent/internal/agent/config"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
)

var (
	cleanupDryRun   bool
	cleanupInterval time.Duration
	cleanupJSON     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop databases that belong to no live application",
	Long: `Fetch the live application set from the orchestrator and drop every
namespaced database (db_u{userId}_a{appId}) that is not in it.

Nothing is dropped when the live set cannot be fetched or is empty.
Runs once by default; --interval (or CLEANUP_INTERVAL) keeps running until
interrupted. Use --dry-run to list what would be dropped.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report orphaned databases without dropping them")
	cleanupCmd.Flags().DurationVar(&cleanupInterval, "interval", 0, "repeat every interval until interrupted (e.g. 24h)")
	cleanupCmd.Flags().BoolVar(&cleanupJSON, "json", false, "print the run report as JSON")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Cleanup.DryRun = cleanupDryRun
	}
	if cmd.Flags().Changed("interval") {
		cfg.Cleanup.Interval = cleanupInterval
	}

	a, err := app.New(cfg, config.ModeCleanup)
	if err != nil {
		return fmt.Errorf("failed to initialize cleanup: %w", err)
	}
	defer a.Stop()

	rep, err := a.RunCleanup(cmd.Context(), cfg.Cleanup.Interval)
	if cfg.Cleanup.Interval > 0 {
		return err
	}
	printReport(cmd, rep)
	return err
}

func printReport(cmd *cobra.Command, rep orphans.Report) {
	out := cmd.OutOrStdout()
	if cleanupJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(reportView(rep))
		return
	}
	if rep.Aborted != nil {
		fmt.Fprintf(out, "Cleanup aborted, nothing dropped: %v\n", rep.Aborted)
		return
	}
	verb := "Dropped"
	list := rep.Deleted
	if rep.DryRun {
		verb = "Would drop"
		list = rep.Candidates
	}
	fmt.Fprintf(out, "Live applications: %d, databases scanned: %d\n", rep.LiveApps, rep.Scanned)
	fmt.Fprintf(out, "%s %d database(s)\n", verb, len(list))
	for _, name := range list {
		fmt.Fprintf(out, "  %s\n", name)
	}
	for _, de := range rep.Errors {
		fmt.Fprintf(out, "  failed %s: %v\n", de.Database, de.Err)
	}
}

type reportJSON struct {
	RunID      string            `json:"runId"`
	DryRun     bool              `json:"dryRun"`
	LiveApps   int               `json:"liveApps"`
	Scanned    int               `json:"scanned"`
	Candidates []string          `json:"candidates"`
	Deleted    []string          `json:"deleted"`
	Errors     map[string]string `json:"errors"`
	Aborted    string            `json:"aborted,omitempty"`
}

func reportView(rep orphans.Report) reportJSON {
	v := reportJSON{
		RunID:      rep.RunID,
		DryRun:     rep.DryRun,
		LiveApps:   rep.LiveApps,
		Scanned:    rep.Scanned,
		Candidates: rep.Candidates,
		Deleted:    rep.Deleted,
		Errors:     make(map[string]string, len(rep.Errors)),
	}
	for _, de := range rep.Errors {
		v.Errors[de.Database] = de.Err.Error()
	}
	if rep.Aborted != nil {
		v.Aborted = rep.Aborted.Error()
	}
	return v
}
