// Package engine drives the external download engine for a single job.
//
// One Run starts one engine process and four short-lived goroutines: a stdin
// feeder, one line reader per output stream, and an exit waiter. The waiter
// delivers exactly one bool on the outcome channel and then closes it.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/procreg"
	"github.com/3leaps/wsfetch/pkg/queue"
)

// ErrEngineCrashed indicates the outcome channel closed without a result.
var ErrEngineCrashed = errors.New("engine process crashed")

// maxLineBytes bounds a single engine output line.
const maxLineBytes = 1 << 20

// Resolver locates the engine executable.
type Resolver interface {
	Resolve() (string, error)
}

// Spawner launches and forgets processes. *procreg.Registry implements it.
type Spawner interface {
	Spawn(procreg.CommandSpec) (*procreg.Process, error)
	Remove(pid int)
}

// ProgressSink receives parsed progress. *queue.Store implements it.
type ProgressSink interface {
	UpdateProgress(id string, percent float64) error
}

// Paths are the directories for one job.
type Paths struct {
	TempDir  string
	FinalDir string
}

// Invoker runs the engine.
type Invoker struct {
	resolver Resolver
	spawner  Spawner
	progress ProgressSink
	pub      events.Publisher
	logger   *zap.Logger
}

// NewInvoker wires an invoker. pub and logger may be nil.
func NewInvoker(resolver Resolver, spawner Spawner, progress ProgressSink, pub events.Publisher, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		resolver: resolver,
		spawner:  spawner,
		progress: progress,
		pub:      events.OrDiscard(pub),
		logger:   logger,
	}
}

// Run starts the engine for job and returns the outcome channel. Errors are
// returned only when the engine could not be started; after that the outcome
// arrives on the channel.
func (inv *Invoker) Run(job queue.Job, paths Paths) (<-chan bool, error) {
	exe, err := inv.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create install dir: %w", err)
	}

	p, err := inv.spawner.Spawn(procreg.CommandSpec{Path: exe})
	if err != nil {
		return nil, err
	}

	log := inv.logger.With(zap.String("job_id", job.ID), zap.Int("pid", p.PID))
	log.Info("engine started",
		zap.String("source_ref", job.SourceRef.String()),
		zap.String("install_dir", paths.TempDir),
	)

	script := Script(Commands(paths.TempDir, job.SourceRef))
	go func() {
		if _, err := io.WriteString(p.Stdin, script); err != nil {
			log.Debug("write engine script", zap.Error(err))
		}
		_ = p.Stdin.Close()
	}()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		inv.readLines(log, job.ID, events.StreamStdout, p.Stdout)
	}()
	go func() {
		defer readers.Done()
		inv.readLines(log, job.ID, events.StreamStderr, p.Stderr)
	}()

	outcome := make(chan bool, 1)
	go func() {
		defer close(outcome)

		// Pipes close on Wait, so both readers must finish first.
		readers.Wait()
		ok, err := p.Wait()
		inv.spawner.Remove(p.PID)
		if err != nil {
			log.Warn("wait for engine", zap.Error(err))
			ok = false
		}
		log.Info("engine exited", zap.Bool("success", ok))
		outcome <- ok
	}()

	return outcome, nil
}

func (inv *Invoker) readLines(log *zap.Logger, jobID, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		line := sc.Text()
		inv.pub.Publish(events.RawOutput(jobID, stream, line))

		pct, ok := ParseProgress(line)
		if !ok {
			continue
		}
		inv.pub.Publish(events.DownloadProgress(jobID, pct))
		if inv.progress != nil {
			if err := inv.progress.UpdateProgress(jobID, pct); err != nil {
				log.Debug("record progress", zap.Error(err))
			}
		}
	}
	if err := sc.Err(); err != nil {
		log.Debug("read engine output", zap.String("stream", stream), zap.Error(err))
		// Keep draining so the engine never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// Await blocks for the engine outcome. A closed channel without a value
// returns ErrEngineCrashed; a cancelled ctx returns ctx.Err().
func Await(ctx context.Context, outcome <-chan bool) (bool, error) {
	select {
	case ok, open := <-outcome:
		if !open {
			return false, ErrEngineCrashed
		}
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
