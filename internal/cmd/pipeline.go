package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	engineassets "github.com/3leaps/wsfetch/internal/assets/engine"
	"github.com/3leaps/wsfetch/internal/config"
	"github.com/3leaps/wsfetch/pkg/engine"
	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/history"
	"github.com/3leaps/wsfetch/pkg/intake"
	"github.com/3leaps/wsfetch/pkg/layout"
	"github.com/3leaps/wsfetch/pkg/metadata"
	"github.com/3leaps/wsfetch/pkg/mirror"
	"github.com/3leaps/wsfetch/pkg/procreg"
	"github.com/3leaps/wsfetch/pkg/queue"
	"github.com/3leaps/wsfetch/pkg/worker"
)

// pipeline is the wired set of services shared by serve and get.
type pipeline struct {
	bus      *events.Bus
	jobs     *queue.Store
	registry *procreg.Registry
	locator  *engine.Locator
	history  *history.Store
	resolver *metadata.Resolver
	intake   *intake.Intake
	worker   *worker.Loop
}

// newPipeline builds every service from cfg. pub, when non-nil, receives
// events alongside the bus.
func newPipeline(ctx context.Context, cfg *config.Config, pub events.Publisher, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{
		bus:  events.NewBus(),
		jobs: queue.NewStore(),
	}
	out := events.Publisher(p.bus)
	if pub != nil {
		out = events.Tee(p.bus, pub)
	}

	hist, err := history.Open(filepath.Join(cfg.DataDir, history.FileName))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	p.history = hist

	p.registry = procreg.NewRegistry(out, logger.Named("procreg"))
	p.locator = engine.NewLocator(cfg.DataDir, cfg.Engine.Path, engineassets.Payload(), logger.Named("engine"))
	invoker := engine.NewInvoker(p.locator, p.registry, p.jobs, out, logger.Named("engine"))

	p.resolver = metadata.NewResolver(metadata.Config{
		Timeout:   cfg.Metadata.Timeout,
		UserAgent: cfg.Metadata.UserAgent,
		RateLimit: cfg.Metadata.RateLimit,
	}, nil, logger.Named("metadata"))
	p.intake = intake.New(p.jobs, p.resolver, out, logger.Named("intake"))

	var sink worker.Mirror
	if cfg.Mirror.Enabled {
		m, err := mirror.New(ctx, mirrorConfig(cfg.Mirror), logger.Named("mirror"))
		if err != nil {
			return nil, fmt.Errorf("configure mirror: %w", err)
		}
		sink = m
	}

	p.worker = worker.New(p.jobs, invoker, layout.New(cfg.DataDir), p.history, sink, out, logger.Named("worker"), worker.Options{
		PollInterval: cfg.Worker.PollInterval,
		Hoist:        cfg.Worker.Hoist,
	})
	return p, nil
}

func mirrorConfig(c config.MirrorConfig) mirror.Config {
	return mirror.Config{
		Bucket:         c.Bucket,
		Prefix:         c.Prefix,
		Region:         c.Region,
		Endpoint:       c.Endpoint,
		Profile:        c.Profile,
		ForcePathStyle: c.ForcePathStyle,
		DetectRegion:   c.DetectRegion,
		Include:        c.Include,
		Exclude:        c.Exclude,
	}
}
