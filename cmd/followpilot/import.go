package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"followpilot/internal/listimport"
	"followpilot/internal/task"
)

var importStart bool

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Create a list-import task from a text or CSV file of usernames",
	Long: `Create a list-import task from a file with one username, @handle or
profile URL per line. Run it while the server is stopped, or use the
upload endpoint of a running server instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importStart, "start", false, "start the task right away")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	parsed, err := listimport.Parse(f)
	if err != nil {
		return err
	}
	for _, skipped := range parsed.Skipped {
		log.Warn().Str("entry", skipped).Msg("skipping invalid entry")
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	created, err := a.manager.Create(ctx, task.CreateParams{
		Type:        task.TypeListImport,
		SourceInput: filepath.Base(args[0]),
		Usernames:   parsed.Usernames,
	})
	if err != nil {
		return err
	}
	if importStart {
		if _, err := a.manager.Start(ctx, created.ID); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d usernames\n", created.ID, created.Total)
	return nil
}
