package cmd

import (
	"encoding/json"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/pkg/metadata"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve a workshop page URL to a source reference and title",
	Long: `Fetch a workshop page and print the owning app id, content id and title
as JSON. Nothing is enqueued.

Example:
  wsfetch resolve "https://steamcommunity.com/sharedfiles/filedetails/?id=123456"`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

// resolveResult is the printed record.
type resolveResult struct {
	metadata.Metadata
	SourceRef string `json:"source_ref"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	if !metadata.IsWorkshopURL(args[0]) {
		return exitError(foundry.ExitInvalidArgument, "Not a workshop URL", metadata.ErrInvalidURL)
	}
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	r := metadata.NewResolver(metadata.Config{
		Timeout:   cfg.Metadata.Timeout,
		UserAgent: cfg.Metadata.UserAgent,
	}, nil, observability.CLILogger)
	md, err := r.Resolve(cmd.Context(), args[0])
	if err != nil {
		observability.CLILogger.Error("Resolve failed", zap.String("url", args[0]), zap.Error(err))
		if errors.Is(err, metadata.ErrInvalidURL) || errors.Is(err, metadata.ErrMetadataExtraction) {
			return exitError(foundry.ExitInvalidArgument, "Failed to resolve", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to resolve", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resolveResult{Metadata: md, SourceRef: md.SourceRef()})
}
