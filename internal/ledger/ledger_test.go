package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_TryReserve(t *testing.T) {
	l := New()

	require.True(t, l.TryReserve("plot-1.plot", "/mnt/a"))
	assert.True(t, l.IsFileReserved("plot-1.plot"))
	assert.True(t, l.IsDestinationReserved("/mnt/a"))

	// Same file, different destination.
	assert.False(t, l.TryReserve("plot-1.plot", "/mnt/b"))
	assert.False(t, l.IsDestinationReserved("/mnt/b"), "failed reserve must not leave a partial entry")

	// Same destination, different file.
	assert.False(t, l.TryReserve("plot-2.plot", "/mnt/a"))
	assert.False(t, l.IsFileReserved("plot-2.plot"))

	assert.True(t, l.TryReserve("plot-2.plot", "/mnt/b"))
}

func TestLedger_ReleaseMakesBothEligible(t *testing.T) {
	l := New()
	require.True(t, l.TryReserve("plot-1.plot", "/mnt/a"))

	l.Release("plot-1.plot", "/mnt/a")

	assert.False(t, l.IsFileReserved("plot-1.plot"))
	assert.False(t, l.IsDestinationReserved("/mnt/a"))
	assert.True(t, l.TryReserve("plot-1.plot", "/mnt/a"))
}

func TestLedger_ReleaseWithoutReservationPanics(t *testing.T) {
	l := New()

	assertCorrupt := func(fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected panic")
			err, ok := r.(error)
			require.True(t, ok, "panic value should be an error, got %T", r)
			assert.True(t, errors.Is(err, ErrCorrupt))
		}()
		fn()
	}

	assertCorrupt(func() { l.Release("ghost.plot", "/mnt/a") })

	require.True(t, l.TryReserve("plot-1.plot", "/mnt/a"))
	assertCorrupt(func() { l.Release("plot-1.plot", "/mnt/b") })

	// The mismatched release must not have dropped the real reservation.
	assert.True(t, l.IsFileReserved("plot-1.plot"))
	assert.True(t, l.IsDestinationReserved("/mnt/a"))
}

func TestLedger_ConcurrentMutualExclusion(t *testing.T) {
	l := New()

	const callers = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Every caller wants the same destination with its own file.
			if l.TryReserve(fmt.Sprintf("plot-%d.plot", i), "/mnt/shared") {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	files, dests := l.Snapshot()
	assert.Len(t, files, 1)
	assert.Equal(t, []string{"/mnt/shared"}, dests)
}

func TestLedger_ConcurrentReserveRelease(t *testing.T) {
	l := New()

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				if !l.TryReserve("plot.plot", "/mnt/a") {
					continue
				}
				if inside.Add(1) != 1 {
					t.Error("two holders of the same reservation")
				}
				inside.Add(-1)
				l.Release("plot.plot", "/mnt/a")
			}
		}()
	}
	wg.Wait()

	files, dests := l.Snapshot()
	assert.Empty(t, files)
	assert.Empty(t, dests)
}
