package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/tidewatch/internal/engine"
)

var resumeLogLevel string

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume <import-id>",
	Short: "Resume an interrupted import",
	Long: `Resume an import from its last checkpoint.

Imports checkpoint their progress after every committed batch, so
resuming never re-credits work already done; at most the batch that was
in flight when the process stopped is replayed, and deduplication
suppresses it.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runResume(cmd *cobra.Command, args []string) error {
	logger := setupLogger("", resumeLogLevel)

	e, s, _, err := setupEngine(logger)
	if err != nil {
		return err
	}
	defer s.Close()
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	importID := args[0]
	if err := e.ResumeImport(ctx, importID); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	return printImportResult(ctx, e, importID)
}

func printImportResult(ctx context.Context, e *engine.Engine, importID string) error {
	state, err := e.ImportProgress(ctx, importID)
	if err != nil {
		return fmt.Errorf("failed to fetch import state: %w", err)
	}

	fmt.Printf("Import %s: %s\n", state.ID, state.Status)
	fmt.Printf("  imported: %d\n", state.Imported)
	fmt.Printf("  skipped:  %d\n", state.Skipped)
	fmt.Printf("  errors:   %d\n", state.Errors)
	return nil
}
