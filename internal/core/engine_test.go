package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moverFunc func(ctx context.Context, c plot.Candidate, d dest.Destination) (transfer.State, error)

func (f moverFunc) Move(ctx context.Context, c plot.Candidate, d dest.Destination) (transfer.State, error) {
	return f(ctx, c, d)
}

func spaceOf(free map[string]uint64) dest.SpaceFunc {
	return func(path string) (uint64, error) { return free[path], nil }
}

type harness struct {
	fs     afero.Fs
	ledger *ledger.Ledger
	log    *logging.Recorder
	engine *Engine
}

// newHarness wires real scanner, selector, ledger and worker around an
// in-memory filesystem. Sizes are scaled down: 1 byte stands for 1 GB.
func newHarness(t *testing.T, dests []dest.Destination, free map[string]uint64, mover transfer.Mover) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	l := ledger.New()
	rec := &logging.Recorder{}

	sel := dest.NewSelector(dests, rec)
	sel.Space = spaceOf(free)

	e := &Engine{
		Sources:         []string{"/src"},
		Sleep:           5 * time.Millisecond,
		DisableFsnotify: true,
		Scanner:         plot.NewScanner(fs, 83, rec),
		Selector:        sel,
		Worker:          &transfer.Worker{Ledger: l, Mover: mover, Logger: rec, Tag: "move"},
		Ledger:          l,
		Logger:          rec,
	}
	return &harness{fs: fs, ledger: l, log: rec, engine: e}
}

func (h *harness) plot(t *testing.T, name string, size int) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, filepath.Join("/src", name), make([]byte, size), 0644))
}

func TestEngine_SelectsOnlyFullSizedPlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan dest.Destination, 1)
	mover := moverFunc(func(_ context.Context, c plot.Candidate, d dest.Destination) (transfer.State, error) {
		started <- d
		<-release
		return transfer.StateRenamed, nil
	})

	h := newHarness(t,
		[]dest.Destination{dest.Local("/A"), dest.Local("/B")},
		map[string]uint64{"/A": 100, "/B": 5},
		mover)
	h.plot(t, "plot-1.plot", 90)
	h.plot(t, "plot-2.plot", 10)

	n := h.engine.Once(context.Background())
	require.Equal(t, 1, n)

	select {
	case d := <-started:
		assert.Equal(t, "/A", d.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("transfer was not dispatched")
	}

	assert.True(t, h.ledger.IsFileReserved("plot-1.plot"))
	assert.True(t, h.ledger.IsDestinationReserved("/A"))
	assert.False(t, h.ledger.IsFileReserved("plot-2.plot"))
	assert.True(t, h.log.Contains("warning", "plot-2.plot"))

	close(release)
	h.engine.Wait()

	files, dests := h.ledger.Snapshot()
	assert.Empty(t, files)
	assert.Empty(t, dests)

	exists, err := afero.Exists(h.fs, "/src/plot-2.plot")
	require.NoError(t, err)
	assert.True(t, exists, "undersized plot stays in place")
}

func TestEngine_TwoCandidatesRunConcurrently(t *testing.T) {
	var mu sync.Mutex
	used := map[string]string{}
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() { arrived.Wait(); close(both) }()

	mover := moverFunc(func(_ context.Context, c plot.Candidate, d dest.Destination) (transfer.State, error) {
		mu.Lock()
		used[c.File] = d.ID()
		mu.Unlock()
		arrived.Done()
		// Neither transfer finishes until both are running.
		select {
		case <-both:
		case <-time.After(5 * time.Second):
			t.Error("transfers did not overlap")
		}
		return transfer.StateRenamed, nil
	})

	h := newHarness(t,
		[]dest.Destination{dest.Local("/A"), dest.Local("/B")},
		map[string]uint64{"/A": 500, "/B": 500},
		mover)
	h.plot(t, "plot-1.plot", 90)
	h.plot(t, "plot-2.plot", 90)

	n := h.engine.Once(context.Background())
	require.Equal(t, 2, n)
	h.engine.Wait()

	require.Len(t, used, 2)
	assert.NotEqual(t, used["plot-1.plot"], used["plot-2.plot"])
	assert.ElementsMatch(t, []string{"/A", "/B"}, []string{used["plot-1.plot"], used["plot-2.plot"]})
	require.NoError(t, h.engine.Err())
}

func TestEngine_NoDestinationKeepsCandidate(t *testing.T) {
	mover := moverFunc(func(context.Context, plot.Candidate, dest.Destination) (transfer.State, error) {
		t.Error("nothing should be dispatched")
		return transfer.StateReserved, nil
	})

	h := newHarness(t,
		[]dest.Destination{dest.Local("/A"), dest.Local("/B")},
		map[string]uint64{"/A": 50, "/B": 90},
		mover)
	h.plot(t, "plot-1.plot", 90)

	assert.Equal(t, 0, h.engine.Once(context.Background()))
	assert.False(t, h.ledger.IsFileReserved("plot-1.plot"))
	assert.True(t, h.log.Contains("warning", "No destination available for plot /src/plot-1.plot"))

	// Re-discovered on the next cycle.
	got := h.engine.Scanner.Scan(h.engine.Sources, h.ledger)
	require.Len(t, got, 1)
	assert.Equal(t, "plot-1.plot", got[0].File)
}

func TestEngine_LocalMoveEndToEnd(t *testing.T) {
	h := newHarness(t, []dest.Destination{dest.Local("/A")}, map[string]uint64{"/A": 1000}, nil)
	h.engine.Worker.(*transfer.Worker).Mover = transfer.NewLocalMover(h.fs)

	var results []transfer.Result
	var mu sync.Mutex
	h.engine.OnResult = func(r transfer.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	h.plot(t, "plot-1.plot", 90)

	require.Equal(t, 1, h.engine.Once(context.Background()))
	h.engine.Wait()

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	exists, err := afero.Exists(h.fs, "/A/plot-1.plot")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = afero.Exists(h.fs, "/A/plot-1.plot"+transfer.TempSuffix)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngine_WorkerPanicStopsRun(t *testing.T) {
	h := newHarness(t, []dest.Destination{dest.Local("/A")}, map[string]uint64{"/A": 1000}, nil)
	// A worker that releases a pair it never reserved corrupts the ledger.
	h.engine.Worker = transferFunc(func(_ context.Context, c plot.Candidate, d dest.Destination) transfer.Result {
		h.ledger.Release("someone-else.plot", d.ID())
		return transfer.Result{}
	})
	h.plot(t, "plot-1.plot", 90)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := h.engine.Run(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "reservation ledger corrupt")
	assert.NoError(t, ctx.Err(), "Run should stop on the panic, not the timeout")
	assert.True(t, h.log.Contains("error", "panicked"))
}

func TestEngine_MoverPanicOnlyLosesThatTransfer(t *testing.T) {
	var attempts atomic.Int32
	mover := moverFunc(func(_ context.Context, c plot.Candidate, d dest.Destination) (transfer.State, error) {
		attempts.Add(1)
		panic("disk driver exploded")
	})
	h := newHarness(t, []dest.Destination{dest.Local("/A")}, map[string]uint64{"/A": 1000}, mover)
	h.plot(t, "plot-1.plot", 90)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	// The pair is released, so the loop keeps going and retries the plot.
	require.Eventually(t, func() bool { return attempts.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, h.log.Contains("error", "panicked"))
	assert.False(t, h.log.Contains("error", "stopping"))
	assert.NoError(t, h.engine.Err())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, []dest.Destination{dest.Local("/A")}, map[string]uint64{"/A": 1000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_NotifyWakesIdleLoop(t *testing.T) {
	h := newHarness(t, []dest.Destination{dest.Local("/A")}, map[string]uint64{"/A": 1000}, nil)
	h.engine.Sleep = time.Hour

	done := make(chan int, 1)
	go func() { done <- h.engine.Once(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	h.engine.Notify()

	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("idle sleep was not interrupted")
	}
}

func TestEngine_FsnotifyTriggersScan(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	fs := afero.NewOsFs()
	l := ledger.New()

	sel := dest.NewSelector([]dest.Destination{dest.Local(dstDir)}, nil)
	sel.Space = spaceOf(map[string]uint64{dstDir: 1 << 30})

	results := make(chan transfer.Result, 1)
	e := &Engine{
		Sources:  []string{srcDir},
		Sleep:    time.Hour,
		Ext:      plot.DefaultExtension,
		Scanner:  plot.NewScanner(fs, 4, nil),
		Selector: sel,
		Worker:   &transfer.Worker{Ledger: l, Mover: transfer.NewLocalMover(fs)},
		Ledger:   l,
		OnResult: func(r transfer.Result) { results <- r },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// Let the first empty scan and the watcher settle.
	time.Sleep(200 * time.Millisecond)

	tmp := filepath.Join(srcDir, "plot-1.plot.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("finished plot"), 0644))
	require.NoError(t, os.Rename(tmp, filepath.Join(srcDir, "plot-1.plot")))

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		_, err := os.Stat(filepath.Join(dstDir, "plot-1.plot"))
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("new plot was not picked up")
	}
}

type transferFunc func(ctx context.Context, c plot.Candidate, d dest.Destination) transfer.Result

func (f transferFunc) Transfer(ctx context.Context, c plot.Candidate, d dest.Destination) transfer.Result {
	return f(ctx, c, d)
}
