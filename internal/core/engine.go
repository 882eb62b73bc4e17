package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

type Scanner interface {
	Scan(sources []string, l ledger.Reserver) []plot.Candidate
}

type Selector interface {
	Select(size int64, l ledger.Reserver) (dest.Destination, bool)
}

type Transferer interface {
	Transfer(ctx context.Context, c plot.Candidate, d dest.Destination) transfer.Result
}

// Engine is the scheduling loop: scan, pick a destination, reserve, and
// hand the pair to a transfer worker without waiting for it.
type Engine struct {
	Sources  []string
	Debounce time.Duration
	Sleep    time.Duration
	// Ext filters fsnotify wake-ups; empty wakes on any new file.
	Ext             string
	DisableFsnotify bool

	Scanner  Scanner
	Selector Selector
	Worker   Transferer
	Ledger   ledger.Reserver
	Logger   logging.Logger

	// OnResult, if set, is called from the worker goroutine after each transfer.
	OnResult func(transfer.Result)

	wake   chan struct{}
	wg     conc.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	failure error
}

func (e *Engine) logger() logging.Logger {
	return logging.OrDiscard(e.Logger)
}

// Run loops until ctx is cancelled or a worker panics, then waits for the
// transfers still in flight. It returns nil on a normal shutdown.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if !e.DisableFsnotify {
		go e.watch(ctx)
	} else {
		e.logger().Infof("[main] fsnotify disabled. Running in polling-only mode.")
	}

	for ctx.Err() == nil {
		e.Once(ctx)
	}

	e.logger().Infof("[main] Stopping, waiting for transfers in flight...")
	e.Wait()
	return e.Err()
}

// Once runs a single scheduling cycle and returns how many transfers it
// dispatched.
func (e *Engine) Once(ctx context.Context) int {
	logger := e.logger()

	candidates := e.Scanner.Scan(e.Sources, e.Ledger)
	if len(candidates) == 0 {
		logger.Infof("[main] No plots found. Sleep for %s", e.Sleep)
		e.idle(ctx, e.Sleep)
		return 0
	}

	dispatched := 0
	for _, c := range candidates {
		logger.Infof("[main] Found plot %s of size %s", c.Path(), humanize.IBytes(uint64(c.Size)))

		if !sleep(ctx, e.Debounce) {
			return dispatched
		}

		d, ok := e.Selector.Select(c.Size, e.Ledger)
		if ok && e.Ledger.TryReserve(c.File, d.ID()) {
			e.dispatch(ctx, c, d)
			dispatched++
			continue
		}

		logger.Warningf("[main] No destination available for plot %s", c.Path())
		if !sleep(ctx, e.Sleep) {
			return dispatched
		}
	}
	return dispatched
}

func (e *Engine) dispatch(ctx context.Context, c plot.Candidate, d dest.Destination) {
	logging.Debugf(e.logger(), "[main] Dispatching %s -> %s", c.Path(), d)

	// A dispatched transfer runs to completion even when the loop stops.
	wctx := context.WithoutCancel(ctx)
	e.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(func() {
			res := e.Worker.Transfer(wctx, c, d)
			if e.OnResult != nil {
				e.OnResult(res)
			}
		})
		r := pc.Recovered()
		if r == nil {
			return
		}
		if err, ok := r.Value.(error); ok && errors.Is(err, ledger.ErrCorrupt) {
			e.fail(c, r)
			return
		}
		// The worker released its pair on the way out; only this transfer is lost.
		e.logger().Errorf("[main] Transfer worker for %s panicked: %v\n%s", c.Path(), r.Value, r.Stack)
	})
}

// fail stops the engine after the ledger was found corrupt.
func (e *Engine) fail(c plot.Candidate, r *panics.Recovered) {
	e.logger().Errorf("[main] Transfer worker for %s panicked, stopping: %v\n%s", c.Path(), r.Value, r.Stack)

	e.mu.Lock()
	if e.failure == nil {
		e.failure = fmt.Errorf("transfer worker for %s: %v", c.Path(), r.Value)
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every dispatched transfer has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Err returns the first worker panic, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// idle sleeps like sleep but returns early when the watcher sees a new plot.
func (e *Engine) idle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-e.wakeChan():
		logging.Debugf(e.logger(), "[main] Woken up by filesystem event")
	}
}

func (e *Engine) wakeChan() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wake == nil {
		e.wake = make(chan struct{}, 1)
	}
	return e.wake
}

// Notify wakes an idle loop. Extra calls while one is pending are dropped.
func (e *Engine) Notify() {
	select {
	case e.wakeChan() <- struct{}{}:
	default:
	}
}

func (e *Engine) watch(ctx context.Context) {
	logger := e.logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warningf("[watch] Cannot create watcher, polling only: %v", err)
		return
	}
	defer watcher.Close()

	for _, dir := range e.Sources {
		if err := watcher.Add(dir); err != nil {
			logger.Warningf("[watch] Failed to watch %s: %v", dir, err)
		}
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if e.Ext != "" && !strings.HasSuffix(ev.Name, e.Ext) {
				continue
			}
			logging.Debugf(logger, "[watch] %v %s", ev.Op, filepath.Base(ev.Name))
			e.Notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warningf("[watch] Watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
