package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/wsfetch/pkg/engine"
	"github.com/3leaps/wsfetch/pkg/events"
	"github.com/3leaps/wsfetch/pkg/history"
	"github.com/3leaps/wsfetch/pkg/layout"
	"github.com/3leaps/wsfetch/pkg/procreg"
	"github.com/3leaps/wsfetch/pkg/queue"
)

// fakeRunner stands in for the engine. prepare runs before the outcome is
// delivered, the way the engine writes files before exiting.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []engine.Paths
	prepare func(job queue.Job, paths engine.Paths)
	result  func(job queue.Job) (<-chan bool, error)
}

func (f *fakeRunner) Run(job queue.Job, paths engine.Paths) (<-chan bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, paths)
	f.mu.Unlock()

	if f.prepare != nil {
		f.prepare(job, paths)
	}
	if f.result != nil {
		return f.result(job)
	}
	ch := make(chan bool, 1)
	ch <- true
	close(ch)
	return ch, nil
}

func outcome(ok bool) func(queue.Job) (<-chan bool, error) {
	return func(queue.Job) (<-chan bool, error) {
		ch := make(chan bool, 1)
		ch <- ok
		close(ch)
		return ch, nil
	}
}

type memHistory struct {
	mu      sync.Mutex
	records []history.Record
	err     error
}

func (m *memHistory) Add(r history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

type memMirror struct {
	dirs []string
}

func (m *memMirror) Mirror(_ context.Context, dir, _ string) error {
	m.dirs = append(m.dirs, dir)
	return nil
}

type countingPublisher struct {
	mu sync.Mutex
	n  map[events.Kind]int
}

func (c *countingPublisher) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[events.Kind]int)
	}
	c.n[e.Kind]++
}

type fixture struct {
	store   *queue.Store
	runner  *fakeRunner
	layout  layout.Layout
	history *memHistory
	mirror  *memMirror
	pub     *countingPublisher
	loop    *Loop
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:   queue.NewStore(),
		runner:  &fakeRunner{},
		layout:  layout.New(t.TempDir()),
		history: &memHistory{},
		mirror:  &memMirror{},
		pub:     &countingPublisher{},
	}
	f.loop = New(f.store, f.runner, f.layout, f.history, f.mirror, f.pub, nil, opts)
	return f
}

func (f *fixture) enqueue(t *testing.T, raw, name string) string {
	t.Helper()
	ref, err := queue.ParseSourceRef(raw)
	require.NoError(t, err)
	id, err := f.store.Enqueue(ref, name)
	require.NoError(t, err)
	return id
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestProcessOne_Idle(t *testing.T) {
	f := newFixture(t, Options{})

	processed, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, f.runner.calls)
}

func TestProcessOne_AppUpdateCompletesAtTempDir(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.prepare = func(_ queue.Job, p engine.Paths) {
		writeFile(t, filepath.Join(p.TempDir, "game.bin"), "dota")
	}
	id := f.enqueue(t, "570", "Dota 2")

	processed, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	temp := f.layout.TempDir("570")
	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, temp, f.runner.calls[0].TempDir)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateCompleted, job.Status.State)
	assert.Equal(t, temp, job.InstallPath)
	assert.FileExists(t, filepath.Join(temp, "game.bin"))
	assert.NoDirExists(t, f.layout.FinalDir("Dota 2", "570"))

	require.Len(t, f.history.records, 1)
	rec := f.history.records[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "570", rec.SourceRef)
	assert.Equal(t, temp, rec.InstallPath)
	assert.False(t, rec.CompletedAt.IsZero())

	assert.Equal(t, []string{temp}, f.mirror.dirs)
	assert.Equal(t, 2, f.pub.n[events.KindQueueChanged])
}

func TestProcessOne_WorkshopRelocates(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.prepare = func(j queue.Job, p engine.Paths) {
		content := layout.WorkshopContentDir(p.TempDir, j.SourceRef.OwnerAppID, j.SourceRef.ContentID)
		writeFile(t, filepath.Join(content, "maps", "arena.bsp"), "map")
		writeFile(t, filepath.Join(content, "readme.txt"), "hi")
	}
	id := f.enqueue(t, "4000:123456", "Arena: Remastered")

	_, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)

	final := f.layout.FinalDir("Arena: Remastered", "123456")
	assert.Equal(t, filepath.Join(f.layout.Root, "Arena_ Remastered"), final)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateCompleted, job.Status.State)
	assert.Equal(t, final, job.InstallPath)
	assert.FileExists(t, filepath.Join(final, "maps", "arena.bsp"))
	assert.FileExists(t, filepath.Join(final, "readme.txt"))
	assert.NoDirExists(t, f.layout.TempDir("123456"))

	require.Len(t, f.history.records, 1)
	assert.Equal(t, final, f.history.records[0].InstallPath)
}

func TestProcessOne_WorkshopNamedLikeContentID(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.prepare = func(j queue.Job, p engine.Paths) {
		content := layout.WorkshopContentDir(p.TempDir, j.SourceRef.OwnerAppID, j.SourceRef.ContentID)
		writeFile(t, filepath.Join(content, "readme.txt"), "hi")
	}
	id := f.enqueue(t, "4000:123456", "123456")

	_, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateCompleted, job.Status.State)
	assert.NotEqual(t, f.layout.TempDir("123456"), job.InstallPath)
	assert.FileExists(t, filepath.Join(job.InstallPath, "readme.txt"))
	assert.NoDirExists(t, f.layout.TempDir("123456"))

	require.Len(t, f.history.records, 1)
	assert.Equal(t, job.InstallPath, f.history.records[0].InstallPath)
}

func TestProcessOne_WorkshopNamedLikeAppInstall(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.prepare = func(j queue.Job, p engine.Paths) {
		if !j.SourceRef.IsWorkshop() {
			writeFile(t, filepath.Join(p.TempDir, "game.bin"), "dota")
			return
		}
		content := layout.WorkshopContentDir(p.TempDir, j.SourceRef.OwnerAppID, j.SourceRef.ContentID)
		writeFile(t, filepath.Join(content, "mod.txt"), "mod")
	}
	app := f.enqueue(t, "570", "Dota 2")
	item := f.enqueue(t, "4000:9", "570")

	for range 2 {
		_, err := f.loop.ProcessOne(context.Background())
		require.NoError(t, err)
	}

	appJob, _ := f.store.Get(app)
	itemJob, _ := f.store.Get(item)
	require.Equal(t, queue.StateCompleted, itemJob.Status.State)
	assert.NotEqual(t, appJob.InstallPath, itemJob.InstallPath)
	assert.FileExists(t, filepath.Join(itemJob.InstallPath, "mod.txt"))
	assert.NoFileExists(t, filepath.Join(appJob.InstallPath, "mod.txt"))
	assert.FileExists(t, filepath.Join(appJob.InstallPath, "game.bin"))
}

func TestProcessOne_RelocationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.prepare = func(j queue.Job, p engine.Paths) {
		content := layout.WorkshopContentDir(p.TempDir, j.SourceRef.OwnerAppID, j.SourceRef.ContentID)
		writeFile(t, filepath.Join(content, "readme.txt"), "hi")
	}
	// A plain file where the final directory belongs.
	writeFile(t, f.layout.FinalDir("Arena", "123456"), "in the way")
	id := f.enqueue(t, "4000:123456", "Arena")

	processed, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateFailed, job.Status.State)
	assert.True(t, strings.HasPrefix(job.Status.Reason, "relocation failed:"), "reason %q", job.Status.Reason)
	assert.Empty(t, f.history.records)
	assert.Empty(t, f.mirror.dirs)
}

func TestProcessOne_WorkshopHoist(t *testing.T) {
	f := newFixture(t, Options{Hoist: true})
	f.runner.prepare = func(j queue.Job, p engine.Paths) {
		content := layout.WorkshopContentDir(p.TempDir, j.SourceRef.OwnerAppID, j.SourceRef.ContentID)
		writeFile(t, filepath.Join(content, "wrapper", "inner", "a.txt"), "a")
		writeFile(t, filepath.Join(content, "wrapper", "inner", "b.txt"), "b")
	}
	id := f.enqueue(t, "4000:9", "Wrapped")

	_, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)

	job, _ := f.store.Get(id)
	assert.FileExists(t, filepath.Join(job.InstallPath, "a.txt"))
	assert.FileExists(t, filepath.Join(job.InstallPath, "b.txt"))
}

func TestProcessOne_WorkshopContentMissing(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.enqueue(t, "4000:77", "Ghost")

	_, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateCompleted, job.Status.State)
	assert.Equal(t, f.layout.TempDir("77"), job.InstallPath)
}

func TestProcessOne_Failures(t *testing.T) {
	tests := []struct {
		name   string
		result func(queue.Job) (<-chan bool, error)
		reason string
	}{
		{
			name:   "engine exit failure",
			result: outcome(false),
			reason: ReasonDownloadFailed,
		},
		{
			name: "outcome channel closed",
			result: func(queue.Job) (<-chan bool, error) {
				ch := make(chan bool)
				close(ch)
				return ch, nil
			},
			reason: ReasonProcessCrashed,
		},
		{
			name: "spawn error",
			result: func(queue.Job) (<-chan bool, error) {
				return nil, &procreg.SpawnError{Path: "/missing/steamcmd", Err: os.ErrNotExist}
			},
			reason: "engine could not be started: spawn /missing/steamcmd: file does not exist",
		},
		{
			name: "engine unavailable",
			result: func(queue.Job) (<-chan bool, error) {
				return nil, engine.ErrEngineUnavailable
			},
			reason: "engine unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.runner.result = tt.result
			id := f.enqueue(t, "4000:1", "Item")
			next := f.enqueue(t, "570", "Next")

			processed, err := f.loop.ProcessOne(context.Background())
			require.NoError(t, err)
			require.True(t, processed)

			job, _ := f.store.Get(id)
			assert.Equal(t, queue.StateFailed, job.Status.State)
			assert.Equal(t, tt.reason, job.Status.Reason)
			assert.Empty(t, f.history.records)
			assert.Empty(t, f.mirror.dirs)

			// The loop moves on to the next job.
			f.runner.result = outcome(true)
			_, err = f.loop.ProcessOne(context.Background())
			require.NoError(t, err)
			nextJob, _ := f.store.Get(next)
			assert.Equal(t, queue.StateCompleted, nextJob.Status.State)
		})
	}
}

func TestProcessOne_HistoryFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t, Options{})
	f.history.err = errors.New("disk full")
	id := f.enqueue(t, "570", "Dota 2")

	_, err := f.loop.ProcessOne(context.Background())
	require.NoError(t, err)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateCompleted, job.Status.State)
}

func TestProcessOne_CancelLeavesJobDownloading(t *testing.T) {
	f := newFixture(t, Options{})
	f.runner.result = func(queue.Job) (<-chan bool, error) {
		return make(chan bool), nil
	}
	id := f.enqueue(t, "570", "Dota 2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := f.loop.ProcessOne(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, processed)

	job, _ := f.store.Get(id)
	assert.Equal(t, queue.StateDownloading, job.Status.State)
}

func TestRun_DrainsQueueInOrder(t *testing.T) {
	f := newFixture(t, Options{PollInterval: 10 * time.Millisecond})
	first := f.enqueue(t, "1", "one")
	second := f.enqueue(t, "2", "two")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	terminal := func(id string) bool {
		j, _ := f.store.Get(id)
		return j.Status.State.IsTerminal()
	}
	require.Eventually(t, func() bool { return terminal(first) && terminal(second) }, 5*time.Second, 5*time.Millisecond)

	// Jobs enqueued while idle are picked up on the next poll.
	third := f.enqueue(t, "3", "three")
	require.Eventually(t, func() bool { return terminal(third) }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	f.runner.mu.Lock()
	defer f.runner.mu.Unlock()
	require.Len(t, f.runner.calls, 3)
	assert.Equal(t, f.layout.TempDir("1"), f.runner.calls[0].TempDir)
	assert.Equal(t, f.layout.TempDir("2"), f.runner.calls[1].TempDir)
}
