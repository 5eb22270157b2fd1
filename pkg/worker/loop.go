// Package worker drains the job queue one job at a time.
//
// Each iteration claims the oldest pending job, runs the engine for it,
// relocates workshop content into its named directory, and records the
// outcome. Per-job failures are captured in the job's status; the loop itself
// only stops when its context is cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/pkg/engine"
	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/history"
	"github.com/3leaps/wsfetch/pkg/layout"
	"github.com/3leaps/wsfetch/pkg/procreg"
	"github.com/3leaps/wsfetch/pkg/queue"
	"github.com/3leaps/wsfetch/pkg/relocate"
)

// DefaultPollInterval is how long the loop sleeps when nothing is pending.
const DefaultPollInterval = time.Second

// Failure reasons recorded on jobs.
const (
	ReasonDownloadFailed = "download failed"
	ReasonProcessCrashed = "process crashed"
)

// Jobs is the subset of *queue.Store the loop uses.
type Jobs interface {
	ClaimNextPending() (queue.Job, bool)
	Finalize(id string, outcome queue.Outcome) error
}

// Runner starts the engine. *engine.Invoker implements it.
type Runner interface {
	Run(job queue.Job, paths engine.Paths) (<-chan bool, error)
}

// HistoryRecorder persists completed jobs. *history.Store implements it.
type HistoryRecorder interface {
	Add(history.Record) error
}

// Mirror copies a completed install somewhere else.
type Mirror interface {
	Mirror(ctx context.Context, dir, name string) error
}

// Options tune the loop.
type Options struct {
	PollInterval time.Duration

	// Hoist strips single-directory wrappers from workshop content before
	// relocating it.
	Hoist bool
}

// Loop is the single download worker.
type Loop struct {
	jobs    Jobs
	runner  Runner
	layout  layout.Layout
	history HistoryRecorder
	mirror  Mirror
	pub     events.Publisher
	logger  *zap.Logger
	opts    Options

	now func() time.Time
}

// New wires a loop. history, mirror, pub and logger may be nil.
func New(jobs Jobs, runner Runner, l layout.Layout, hist HistoryRecorder, mirror Mirror, pub events.Publisher, logger *zap.Logger, opts Options) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Loop{
		jobs:    jobs,
		runner:  runner,
		layout:  l,
		history: hist,
		mirror:  mirror,
		pub:     events.OrDiscard(pub),
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run processes jobs until ctx is cancelled. A job still running at
// cancellation is left as Downloading.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker started", zap.Duration("poll_interval", l.opts.PollInterval))
	defer l.logger.Info("worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		processed, err := l.ProcessOne(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Error("worker iteration", zap.Error(err))
		}

		if processed {
			timer.Reset(0)
		} else {
			timer.Reset(l.opts.PollInterval)
		}
	}
}

// ProcessOne claims and runs at most one job. It reports whether a job was
// claimed. The returned error is non-nil only when ctx was cancelled while
// waiting for the engine.
func (l *Loop) ProcessOne(ctx context.Context) (bool, error) {
	job, ok := l.jobs.ClaimNextPending()
	if !ok {
		return false, nil
	}
	l.pub.Publish(events.QueueChanged())

	log := l.logger.With(zap.String("job_id", job.ID), zap.String("source_ref", job.SourceRef.String()))
	log.Info("job claimed", zap.String("name", job.Name))

	paths := engine.Paths{
		TempDir:  l.layout.TempDir(job.SourceRef.ContentID),
		FinalDir: l.layout.FinalDir(job.Name, job.SourceRef.ContentID),
	}

	outcome, err := l.execute(ctx, log, job, paths)
	if err != nil {
		log.Warn("job interrupted", zap.Error(err))
		return true, err
	}

	if err := l.jobs.Finalize(job.ID, outcome); err != nil {
		log.Error("finalize job", zap.Error(err))
	}
	l.pub.Publish(events.QueueChanged())

	switch o := outcome.(type) {
	case queue.CompletedOutcome:
		log.Info("job completed", zap.String("install_path", o.Path))
		l.recordHistory(log, job, o.Path)
		l.mirrorInstall(ctx, log, job, o.Path)
	case queue.FailedOutcome:
		log.Warn("job failed", zap.String("reason", o.Reason))
	}
	return true, nil
}

func (l *Loop) execute(ctx context.Context, log *zap.Logger, job queue.Job, paths engine.Paths) (queue.Outcome, error) {
	ch, err := l.runner.Run(job, paths)
	if err != nil {
		return queue.Fail(startFailureReason(err)), nil
	}

	ok, err := engine.Await(ctx, ch)
	switch {
	case errors.Is(err, engine.ErrEngineCrashed):
		return queue.Fail(ReasonProcessCrashed), nil
	case err != nil:
		return nil, err
	case !ok:
		return queue.Fail(ReasonDownloadFailed), nil
	}

	if !job.SourceRef.IsWorkshop() {
		return queue.Complete(paths.TempDir), nil
	}

	content := layout.WorkshopContentDir(paths.TempDir, job.SourceRef.OwnerAppID, job.SourceRef.ContentID)
	if !relocate.Exists(content) {
		log.Warn("workshop content not found, keeping install dir", zap.String("expected", content))
		return queue.Complete(paths.TempDir), nil
	}

	if err := l.relocate(content, paths.FinalDir); err != nil {
		log.Error("relocate content", zap.Error(err))
		return queue.Fail(fmt.Sprintf("relocation failed: %v", err)), nil
	}
	if err := os.RemoveAll(paths.TempDir); err != nil {
		log.Warn("remove install dir", zap.String("path", paths.TempDir), zap.Error(err))
	}
	return queue.Complete(paths.FinalDir), nil
}

func (l *Loop) relocate(src, dst string) error {
	if l.opts.Hoist {
		_, err := relocate.Hoist(src, dst)
		return err
	}
	return relocate.MoveTree(src, dst)
}

func (l *Loop) recordHistory(log *zap.Logger, job queue.Job, installPath string) {
	if l.history == nil {
		return
	}
	err := l.history.Add(history.Record{
		ID:          job.ID,
		SourceRef:   job.SourceRef.String(),
		Name:        job.Name,
		InstallPath: installPath,
		CompletedAt: l.now(),
	})
	if err != nil {
		log.Error("record history", zap.Error(err))
	}
}

func (l *Loop) mirrorInstall(ctx context.Context, log *zap.Logger, job queue.Job, installPath string) {
	if l.mirror == nil {
		return
	}
	if err := l.mirror.Mirror(ctx, installPath, job.Name); err != nil {
		log.Error("mirror install", zap.Error(err))
	}
}

func startFailureReason(err error) string {
	switch {
	case errors.Is(err, procreg.ErrSpawn):
		return "engine could not be started: " + err.Error()
	default:
		return err.Error()
	}
}
