package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/internal/platform"
	"github.com/3leaps/wsfetch/internal/server"
	"github.com/3leaps/wsfetch/internal/server/handlers"
	"github.com/3leaps/wsfetch/pkg/engine"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download worker and HTTP API",
	Long: `Start the download worker and expose the queue over HTTP.

Jobs are processed one at a time. SIGINT or SIGTERM stops the listener,
waits for in-flight requests, and kills any running engine process.

Examples:
  wsfetch serve
  wsfetch serve --port 9000
  WSFETCH_MIRROR_ENABLED=true WSFETCH_MIRROR_BUCKET=archive wsfetch serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	p, err := newPipeline(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	id := GetAppIdentity()
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	hm.RegisterChecker("engine", engineHealthChecker{locator: p.locator})

	api := &handlers.API{
		Jobs:      p.jobs,
		Intake:    p.intake,
		History:   p.history,
		Processes: p.registry,
		OpenPath:  platform.OpenInFileManager,
		Logger:    logger.Named("api"),
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithEvents(p.bus),
		server.WithLogger(logger.Named("http")),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	workerDone := make(chan error, 1)
	go func() { workerDone <- p.worker.Run(workerCtx) }()

	serveErr, err := srv.Start()
	if err != nil {
		cancelWorker()
		<-workerDone
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start HTTP server", err)
	}
	logger.Info("wsfetch serving",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("mirror", cfg.Mirror.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			runErr = exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	cancelWorker()
	if n := p.registry.KillAll(); n > 0 {
		logger.Info("Killed engine processes", zap.Int("count", n))
	}
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Worker stopped with error", zap.Error(err))
	}
	return runErr
}

// identityHealthChecker reports a misconfigured application identity.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("identity: missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("identity: missing env prefix")
	case c.configName == "":
		return fmt.Errorf("identity: missing config name")
	}
	return nil
}

// engineHealthChecker fails while no engine executable can be resolved.
type engineHealthChecker struct {
	locator engine.Resolver
}

func (c engineHealthChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.locator.Resolve(); err != nil {
		return err
	}
	return nil
}
