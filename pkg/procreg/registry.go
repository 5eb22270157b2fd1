// Package procreg tracks external processes spawned by the pipeline so they
// can be listed and force-terminated as a group at shutdown.
//
// The registry lock guards membership only; it is never held while a process
// runs or while waiting for it to exit.
package procreg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/wsfetch/pkg/events"
)

// ErrSpawn indicates the executable is missing or could not be launched.
var ErrSpawn = errors.New("spawn failed")

// SpawnError describes a failed launch.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is reports ErrSpawn so callers can match without knowing the cause.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// CommandSpec describes a process to launch.
type CommandSpec struct {
	Path string
	Args []string
	Dir  string

	// Env replaces the environment when non-nil; nil inherits os.Environ.
	Env []string
}

// Process is a running child with all three standard streams captured.
//
// Callers must drain Stdout and Stderr before calling Wait: the pipes are
// closed once the process has been reaped.
type Process struct {
	PID    int
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd *exec.Cmd

	waitOnce sync.Once
	success  bool
	waitErr  error
}

// Wait blocks until the process exits and reports whether it exited with
// status zero. A non-zero exit is not an error; err is set only when the wait
// itself failed. Repeated calls return the first result.
func (p *Process) Wait() (bool, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err == nil {
			p.success = true
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return
		}
		p.waitErr = err
	})
	return p.success, p.waitErr
}

// Kill forcibly terminates the process. Killing a process that already exited
// is not an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Registry records live processes by pid.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*Process

	pub    events.Publisher
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A process-spawned event is published
// to pub for every successful Spawn.
func NewRegistry(pub events.Publisher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		procs:  make(map[int]*Process),
		pub:    events.OrDiscard(pub),
		logger: logger,
	}
}

// Spawn launches spec and records it. The returned process is already running.
func (r *Registry) Spawn(spec CommandSpec) (*Process, error) {
	if spec.Path == "" {
		return nil, &SpawnError{Path: spec.Path, Err: errors.New("executable path is required")}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	} else {
		cmd.Env = os.Environ()
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	r.mu.Lock()
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	p := &Process{
		PID:    cmd.Process.Pid,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
	}
	r.procs[p.PID] = p
	r.mu.Unlock()

	r.logger.Debug("process spawned", zap.Int("pid", p.PID), zap.String("path", spec.Path))
	r.pub.Publish(events.ProcessSpawned(p.PID))
	return p, nil
}

// Remove drops a process that is known to have exited. Unknown pids are
// ignored.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// KillAll terminates every tracked process and empties the registry. It
// returns the number of processes that were tracked. Processes that already
// exited are not treated as failures.
func (r *Registry) KillAll() int {
	r.mu.Lock()
	procs := r.procs
	r.procs = make(map[int]*Process)
	r.mu.Unlock()

	for pid, p := range procs {
		if err := p.Kill(); err != nil {
			r.logger.Warn("kill process", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		r.logger.Debug("process killed", zap.Int("pid", pid))
	}
	return len(procs)
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// PIDs returns the tracked pids in ascending order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
