package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/intake"
	"github.com/3leaps/wsfetch/pkg/manifest"
	"github.com/3leaps/wsfetch/pkg/queue"
)

var (
	getName  string
	getFile  string
	getQuiet bool
)

var getCmd = &cobra.Command{
	Use:   "get [ref-or-url]...",
	Short: "Download one or more items and exit",
	Long: `Enqueue the given sources, process them in order, and exit.

A source is an application id ("570"), a workshop reference
("4000:123456"), or a workshop page URL. Events are written to stdout as
JSONL; the command exits non-zero if any job failed.

Examples:
  wsfetch get 570 --name "Dota 2"
  wsfetch get 4000:123456
  wsfetch get "https://steamcommunity.com/sharedfiles/filedetails/?id=123456"
  wsfetch get --file batch.yaml`,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getName, "name", "n", "", "Display name (single source only)")
	getCmd.Flags().StringVarP(&getFile, "file", "f", "", "Batch manifest (YAML or JSON)")
	getCmd.Flags().BoolVarP(&getQuiet, "quiet", "q", false, "Suppress raw engine output records")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqs, err := getRequests(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	w := events.NewJSONLWriter(os.Stdout)
	if getQuiet {
		w.WithKinds(events.KindQueueChanged, events.KindDownloadProgress, events.KindProcessSpawned)
	}
	defer func() { _ = w.Close() }()

	p, err := newPipeline(ctx, cfg, w, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start", err)
	}

	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		id, err := p.intake.Submit(ctx, req)
		if err != nil {
			observability.CLILogger.Error("Failed to enqueue", zap.String("source", req.Source), zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Failed to enqueue "+req.Source, err)
		}
		ids = append(ids, id)
	}

	if err := drain(ctx, p); err != nil {
		p.registry.KillAll()
		return exitError(foundry.ExitSignalInt, "Interrupted", err)
	}

	failed := 0
	for _, id := range ids {
		job, ok := p.jobs.Get(id)
		if !ok {
			continue
		}
		switch job.Status.State {
		case queue.StateCompleted:
			observability.CLILogger.Info("Download complete",
				zap.String("name", job.Name),
				zap.String("path", job.InstallPath))
		case queue.StateFailed:
			failed++
			observability.CLILogger.Error("Download failed",
				zap.String("name", job.Name),
				zap.String("reason", job.Status.Reason))
		}
	}
	if err := w.Err(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write events", err)
	}
	if failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Downloads failed", fmt.Errorf("%d of %d jobs failed", failed, len(ids)))
	}
	return nil
}

// getRequests builds submissions from positional args or --file.
func getRequests(args []string) ([]intake.Request, error) {
	if getFile != "" {
		if len(args) > 0 {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("sources and --file are mutually exclusive"))
		}
		b, err := manifest.Load(getFile)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		reqs := make([]intake.Request, 0, len(b.Items))
		for _, it := range b.Items {
			reqs = append(reqs, intake.Request{Source: it.Source, Name: it.Name})
		}
		return reqs, nil
	}

	if len(args) == 0 {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("at least one source or --file is required"))
	}
	if getName != "" && len(args) > 1 {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("--name applies to a single source"))
	}
	reqs := make([]intake.Request, 0, len(args))
	for _, a := range args {
		reqs = append(reqs, intake.Request{Source: a, Name: getName})
	}
	return reqs, nil
}

// drain runs the worker until no pending job remains.
func drain(ctx context.Context, p *pipeline) error {
	for {
		processed, err := p.worker.ProcessOne(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}
