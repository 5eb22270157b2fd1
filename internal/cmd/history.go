package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/pkg/history"
)

var historyOutput string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune completed downloads",
	Long: `Operate on the history file under the data directory.

Removing a record also deletes its install directory. Clearing the history
leaves install directories in place.

Examples:
  wsfetch history list
  wsfetch history remove <id>
  wsfetch history clear`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed downloads",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a record and its install directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRemove,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every record",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyRemoveCmd, historyClearCmd)
	historyListCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "Output format (table|json)")
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.DataDir, history.FileName)
	store, err := history.Open(path)
	if err != nil {
		observability.CLILogger.Error("Failed to open history", zap.String("path", path), zap.Error(err))
		return nil, exitError(foundry.ExitFileReadError, "Failed to open history", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	if historyOutput != "table" && historyOutput != "json" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected table or json"))
	}
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}

	records := store.List()
	if historyOutput == "json" {
		if records == nil {
			records = []history.Record{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	printHistoryTable(cmd.OutOrStdout(), records)
	return nil
}

func printHistoryTable(out io.Writer, records []history.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tNAME\tCOMPLETED\tPATH")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.SourceRef,
			r.Name,
			r.CompletedAt.Format(time.RFC3339),
			r.InstallPath,
		)
	}
}

func runHistoryRemove(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	removed, err := store.Remove(args[0])
	switch {
	case errors.Is(err, history.ErrCleanup):
		observability.CLILogger.Warn("Record removed but install directory remains", zap.String("id", args[0]), zap.Error(err))
	case err != nil:
		return exitError(foundry.ExitFileWriteError, "Failed to update history", err)
	}
	if !removed {
		return exitError(foundry.ExitInvalidArgument, "Unknown history record", fmt.Errorf("no record with id %q", args[0]))
	}
	observability.CLILogger.Info("History record removed", zap.String("id", args[0]))
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to clear history", err)
	}
	observability.CLILogger.Info("History cleared", zap.String("path", store.Path()))
	return nil
}
