package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/tidewatch/internal/store"
)

var (
	importKind     string
	importLogLevel string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <user-id> <export-file>...",
	Short: "Import a listening-history export",
	Long: `Import one or more listening-history export files for a user.

Supported export kinds:
  tidal    Tidal history exports carrying native track URIs
  spotify  Spotify history exports carrying free-text track/artist names,
           resolved by fuzzy search against the Tidal catalogue

The files are validated up front; a malformed export is rejected before
anything is written. Progress is checkpointed per batch, so an
interrupted import can be finished later with 'tidewatch resume'.
Input files are removed once the import completes.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importKind, "kind", store.ImportKindTidal, "Export kind (tidal, spotify)")
	importCmd.Flags().StringVar(&importLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runImport(cmd *cobra.Command, args []string) error {
	logger := setupLogger("", importLogLevel)

	e, s, _, err := setupEngine(logger)
	if err != nil {
		return err
	}
	defer s.Close()
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userID, files := args[0], args[1:]

	state, err := e.CreateImport(ctx, importKind, userID, files)
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}

	fmt.Printf("Import %s created (%d entries)\n", state.ID, state.Total)

	if err := e.ResumeImport(ctx, state.ID); err != nil {
		fmt.Printf("Import interrupted; finish it with: tidewatch resume %s\n", state.ID)
		return fmt.Errorf("import failed: %w", err)
	}

	return printImportResult(ctx, e, state.ID)
}
