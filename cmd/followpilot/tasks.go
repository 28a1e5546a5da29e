package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"followpilot/internal/safety"
)

var tasksJSON bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Print the active and archived tasks",
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "print the raw snapshot as JSON")
}

func runTasks(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	snap, err := a.manager.Snapshot(ctx)
	if err != nil {
		return err
	}
	if tasksJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	settings, err := a.settings.Load(ctx)
	if err != nil {
		settings = safety.Default()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tFOLLOWED\tREMAINING\tSOURCE")
	for _, t := range snap.Active {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n", t.ID, t.Type, t.Status, t.Progress, t.Total,
			t.FollowedCount, safety.EstimateRemaining(t.Total, t.Progress, settings), t.SourceInput)
	}
	for _, t := range snap.Stopped {
		fmt.Fprintf(w, "%s\t%s\tstopped:%s\t%d/%d\t%d\t-\t%s\n", t.ID, t.Type, t.StopReason, t.Progress, t.Total,
			t.FollowedCount, t.SourceInput)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(snap.Active)+len(snap.Stopped) == 0 {
		fmt.Fprintln(os.Stderr, "no tasks")
	}
	return nil
}
