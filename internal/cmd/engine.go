package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	engineassets "github.com/3leaps/wsfetch/internal/assets/engine"
	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/pkg/engine"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Locate or extract the SteamCMD executable",
	Long: `Show where the engine executable lives, or extract the embedded copy.

Examples:
  wsfetch engine path
  wsfetch engine extract`,
}

var enginePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the engine path",
	Args:  cobra.NoArgs,
	RunE:  runEnginePath,
}

var engineExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the embedded engine, replacing any existing copy",
	Args:  cobra.NoArgs,
	RunE:  runEngineExtract,
}

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.AddCommand(enginePathCmd, engineExtractCmd)
}

func newLocator(cmd *cobra.Command) (*engine.Locator, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	return engine.NewLocator(cfg.DataDir, cfg.Engine.Path, engineassets.Payload(), observability.CLILogger), nil
}

func runEnginePath(cmd *cobra.Command, args []string) error {
	l, err := newLocator(cmd)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), l.Path())
	return nil
}

func runEngineExtract(cmd *cobra.Command, args []string) error {
	l, err := newLocator(cmd)
	if err != nil {
		return err
	}
	path, err := l.Extract()
	if err != nil {
		observability.CLILogger.Error("Extraction failed", zap.Bool("embedded", engineassets.Embedded()), zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to extract engine", err)
	}
	observability.CLILogger.Info("Engine extracted", zap.String("path", path))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
