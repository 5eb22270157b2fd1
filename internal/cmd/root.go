// Package cmd implements the wsfetch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/internal/config"
	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/internal/server/handlers"
)

var (
	cfgFile     string
	verbose     bool
	dataDirFlag string

	appIdentity *config.Identity

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

var rootCmd = &cobra.Command{
	Use:   "wsfetch",
	Short: "Queue and download Steam content with SteamCMD",
	Long: `wsfetch queues application and workshop downloads, drives SteamCMD one
job at a time, and moves finished content into named folders under the data
directory.

Run 'wsfetch serve' for the HTTP API, or 'wsfetch get' for a one-shot
download.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		id := config.DefaultIdentity()
		config.SetIdentity(id)
		appIdentity = &id
		config.SetConfigFile(cfgFile)
		observability.InitCLILogger(id.BinaryName, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <config dir>/wsfetch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during command initialization.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and exits with the code carried by the error.
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

// loadConfig resolves configuration with command-line overrides on top.
func loadConfig(ctx context.Context) (*config.Config, error) {
	overrides := map[string]any{}
	if dataDirFlag != "" {
		overrides["data_dir"] = dataDirFlag
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

// exitCode recovers the code embedded by exitError. Anything else exits 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	if m := exitCodePattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	return 1
}

// ExitWithCode logs msg and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger != nil {
		logger.Error(msg, zap.Int("exit_code", code), zap.Error(err))
	}
	os.Exit(code)
}
