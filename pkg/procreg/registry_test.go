package procreg

import (
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/wsfetch/pkg/events"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell utilities")
	}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestRegistry_SpawnPublishesPID(t *testing.T) {
	skipOnWindows(t)

	rec := &recorder{}
	r := NewRegistry(rec, nil)

	p, err := r.Spawn(CommandSpec{Path: "/bin/sh", Args: []string{"-c", "read line; echo got:$line"}})
	require.NoError(t, err)
	require.NotZero(t, p.PID)
	assert.Equal(t, []int{p.PID}, r.PIDs())

	_, err = io.WriteString(p.Stdin, "hello\n")
	require.NoError(t, err)
	require.NoError(t, p.Stdin.Close())

	out, err := io.ReadAll(p.Stdout)
	require.NoError(t, err)
	_, _ = io.ReadAll(p.Stderr)
	assert.Equal(t, "got:hello", strings.TrimSpace(string(out)))

	ok, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, ok)

	r.Remove(p.PID)
	r.Remove(p.PID)
	assert.Zero(t, r.Len())

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.KindProcessSpawned, rec.events[0].Kind)
	assert.Equal(t, p.PID, rec.events[0].PID)
}

func TestProcess_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)

	r := NewRegistry(nil, nil)
	p, err := r.Spawn(CommandSpec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	_, _ = io.ReadAll(p.Stdout)
	_, _ = io.ReadAll(p.Stderr)

	ok, err := p.Wait()
	require.NoError(t, err)
	assert.False(t, ok)

	// Wait is idempotent.
	ok, err = p.Wait()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_SpawnMissingExecutable(t *testing.T) {
	r := NewRegistry(nil, nil)

	_, err := r.Spawn(CommandSpec{Path: filepath.Join(t.TempDir(), "no-such-engine")})
	require.ErrorIs(t, err, ErrSpawn)

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Path, "no-such-engine")
	assert.Zero(t, r.Len())

	_, err = r.Spawn(CommandSpec{})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestRegistry_KillAll(t *testing.T) {
	skipOnWindows(t)

	sleep, err := exec.LookPath("sleep")
	require.NoError(t, err)

	r := NewRegistry(nil, nil)
	var procs []*Process
	for i := 0; i < 2; i++ {
		p, err := r.Spawn(CommandSpec{Path: sleep, Args: []string{"30"}})
		require.NoError(t, err)
		procs = append(procs, p)
	}
	require.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.KillAll())
	assert.Zero(t, r.Len())

	for _, p := range procs {
		ok, err := p.Wait()
		require.NoError(t, err)
		assert.False(t, ok, "killed process must not report success")
	}

	// Second call has nothing to do, and killing reaped processes is fine.
	assert.Zero(t, r.KillAll())
	for _, p := range procs {
		assert.NoError(t, p.Kill())
	}
}
