package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/procreg"
	"github.com/3leaps/wsfetch/pkg/queue"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"update progress: 42.5%", 42.5, true},
		{"progress: abc%", 0, false},
		{"progress:100%", 100, true},
		{"Update state (0x61) downloading, progress: 12.34% (1024 / 8192)", 12.34, true},
		{"Update state (0x61) downloading, progress: 12.34 (1024 / 8192)", 0, false},
		{"progress: 7 bytes", 0, false},
		{"download progress: 55", 0, false},
		{"Success. Downloaded item 123456", 0, false},
		{"progress: %", 0, false},
		{"progress:", 0, false},
		{"progress: NaN%", 0, false},
		{"progress: Inf%", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseProgress(tt.line)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		assert.Equal(t, tt.want, got, "line %q", tt.line)
	}
}

func TestCommands(t *testing.T) {
	ws, err := queue.ParseSourceRef("4000:123456")
	require.NoError(t, err)
	assert.Equal(t, []string{
		`force_install_dir "/data/download/123456"`,
		"login anonymous",
		"workshop_download_item 4000 123456",
		"quit",
	}, Commands("/data/download/123456", ws))

	app, err := queue.ParseSourceRef("570")
	require.NoError(t, err)
	cmds := Commands("/data/download/570", app)
	assert.Equal(t, "app_update 570 validate", cmds[2])

	assert.Equal(t, "a\nb\n", Script([]string{"a", "b"}))
}

func TestLocator_ExtractsPayload(t *testing.T) {
	dir := t.TempDir()
	l := NewLocator(dir, "", []byte("#!/bin/sh\nexit 0\n"), nil)

	path, err := l.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, EngineDirName, ExecutableName()), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexit 0\n", string(b))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	// An existing engine is not overwritten.
	require.NoError(t, os.WriteFile(path, []byte("custom"), 0o755))
	_, err = l.Resolve()
	require.NoError(t, err)
	b, _ = os.ReadFile(path)
	assert.Equal(t, "custom", string(b))

	// Extract forces a fresh copy.
	_, err = l.Extract()
	require.NoError(t, err)
	b, _ = os.ReadFile(path)
	assert.Equal(t, "#!/bin/sh\nexit 0\n", string(b))
}

func TestLocator_Unavailable(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLocator(dir, "", nil, nil).Resolve()
	require.ErrorIs(t, err, ErrEngineUnavailable)

	_, err = NewLocator(dir, filepath.Join(dir, "missing"), []byte("x"), nil).Resolve()
	require.ErrorIs(t, err, ErrEngineUnavailable)

	_, err = NewLocator(dir, filepath.Join(dir, "missing"), []byte("x"), nil).Extract()
	require.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestAwait(t *testing.T) {
	ch := make(chan bool, 1)
	ch <- true
	ok, err := Await(context.Background(), ch)
	require.NoError(t, err)
	assert.True(t, ok)

	closed := make(chan bool)
	close(closed)
	_, err = Await(context.Background(), closed)
	require.ErrorIs(t, err, ErrEngineCrashed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Await(ctx, make(chan bool))
	require.ErrorIs(t, err, context.Canceled)
}

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) byKind(k events.Kind) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// fakeEngine echoes the script it receives, reports progress on stdout and
// a warning on stderr, then exits with code.
func fakeEngine(t *testing.T, code string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a POSIX shell script")
	}
	path := filepath.Join(t.TempDir(), "steamcmd")
	script := strings.Join([]string{
		"#!/bin/sh",
		`while IFS= read -r line; do`,
		`  echo "cmd: $line"`,
		`  [ "$line" = "quit" ] && break`,
		`done`,
		`echo "Update state (0x61) downloading, progress: 42.5% (1 / 2)"`,
		`echo "progress: abc%"`,
		`echo "low disk space" >&2`,
		"exit " + code,
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func claimedJob(t *testing.T, store *queue.Store, raw string) queue.Job {
	t.Helper()
	ref, err := queue.ParseSourceRef(raw)
	require.NoError(t, err)
	_, err = store.Enqueue(ref, "Item")
	require.NoError(t, err)
	job, ok := store.ClaimNextPending()
	require.True(t, ok)
	return job
}

func TestInvoker_Run(t *testing.T) {
	exe := fakeEngine(t, "0")

	store := queue.NewStore()
	rec := &collector{}
	reg := procreg.NewRegistry(rec, nil)
	inv := NewInvoker(NewLocator(t.TempDir(), exe, nil, nil), reg, store, rec, nil)

	job := claimedJob(t, store, "4000:123456")
	temp := filepath.Join(t.TempDir(), "download", "123456")

	outcome, err := inv.Run(job, Paths{TempDir: temp})
	require.NoError(t, err)

	ok, err := Await(context.Background(), outcome)
	require.NoError(t, err)
	assert.True(t, ok)

	_, open := <-outcome
	assert.False(t, open, "outcome delivers exactly one value")

	assert.DirExists(t, temp)
	assert.Zero(t, reg.Len(), "exited process is removed from the registry")
	assert.Len(t, rec.byKind(events.KindProcessSpawned), 1)

	var lines []string
	var sawStderr bool
	for _, e := range rec.byKind(events.KindRawOutput) {
		assert.Equal(t, job.ID, e.JobID)
		lines = append(lines, e.Line)
		if e.Stream == events.StreamStderr && e.Line == "low disk space" {
			sawStderr = true
		}
	}
	assert.Contains(t, lines, `cmd: force_install_dir "`+temp+`"`)
	assert.Contains(t, lines, "cmd: login anonymous")
	assert.Contains(t, lines, "cmd: workshop_download_item 4000 123456")
	assert.Contains(t, lines, "progress: abc%")
	assert.True(t, sawStderr)

	progress := rec.byKind(events.KindDownloadProgress)
	require.Len(t, progress, 1, "malformed progress is dropped")
	assert.Equal(t, 42.5, progress[0].Percent)

	got, _ := store.Get(job.ID)
	assert.Equal(t, 42.5, got.Status.Progress)
}

func TestInvoker_RunFailure(t *testing.T) {
	exe := fakeEngine(t, "7")

	store := queue.NewStore()
	inv := NewInvoker(NewLocator(t.TempDir(), exe, nil, nil), procreg.NewRegistry(nil, nil), store, nil, nil)
	job := claimedJob(t, store, "570")

	outcome, err := inv.Run(job, Paths{TempDir: filepath.Join(t.TempDir(), "570")})
	require.NoError(t, err)

	ok, err := Await(context.Background(), outcome)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvoker_EngineUnavailable(t *testing.T) {
	store := queue.NewStore()
	reg := procreg.NewRegistry(nil, nil)
	inv := NewInvoker(NewLocator(t.TempDir(), "", nil, nil), reg, store, nil, nil)
	job := claimedJob(t, store, "570")

	_, err := inv.Run(job, Paths{TempDir: filepath.Join(t.TempDir(), "570")})
	require.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Zero(t, reg.Len())
}
