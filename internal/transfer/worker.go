package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/cleverdata/plotmover/internal/db"
	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/cleverdata/plotmover/internal/notify"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Journal records transfer outcomes. *db.Store implements it.
type Journal interface {
	Begin(rec db.Record) error
	Finish(id, status string, duration time.Duration, speedMiB float64, transferErr error) error
}

// Notifier receives finished transfers. *notify.Notifier implements it.
type Notifier interface {
	Send(ctx context.Context, ev notify.Event) error
}

// Result describes one finished transfer.
type Result struct {
	ID          string
	Candidate   plot.Candidate
	Destination dest.Destination
	// Reached is the furthest state the mover got to before finishing or failing.
	Reached  State
	State    State
	Duration time.Duration
	SpeedMiB float64
	Err      error
}

func (r Result) Status() string {
	switch {
	case r.Err == nil:
		return db.StatusMoved
	case errors.Is(r.Err, ErrDuplicate):
		return db.StatusDuplicate
	default:
		return db.StatusFailed
	}
}

// Worker runs one transfer for a pair the caller has already reserved and
// always releases that pair, whatever the outcome.
type Worker struct {
	Ledger   ledger.Reserver
	Mover    Mover
	Journal  Journal
	Notifier Notifier
	Logger   logging.Logger
	// Tag prefixes log lines, "move" or "rsync".
	Tag string
}

func (w *Worker) Transfer(ctx context.Context, c plot.Candidate, d dest.Destination) Result {
	logger := logging.OrDiscard(w.Logger)
	res := Result{
		ID:          uuid.NewString(),
		Candidate:   c,
		Destination: d,
		Reached:     StateReserved,
		State:       StateReserved,
	}

	start := time.Now()
	if w.Journal != nil {
		if err := w.Journal.Begin(db.Record{
			ID:          res.ID,
			Plot:        c.File,
			SourcePath:  c.Path(),
			Destination: d.ID(),
			Size:        c.Size,
			StartedAt:   start,
		}); err != nil {
			logger.Warningf("[%s] Journal: %v", w.Tag, err)
		}
	}

	logger.Infof("[%s] Starting to move plot from %s to %s (%s)", w.Tag, c.Path(), d, humanize.IBytes(uint64(c.Size)))

	func() {
		defer func() {
			w.Ledger.Release(c.File, d.ID())
			res.State = StateReleased
		}()
		res.State = StateInFlight
		res.Reached, res.Err = w.Mover.Move(ctx, c, d)
	}()

	res.Duration = time.Since(start)
	res.SpeedMiB = SpeedMiB(c.Size, res.Duration)

	if res.Err != nil {
		logger.Errorf("[%s] Plot file %s -> %s failed after %.1f s (reached %s): %v",
			w.Tag, c.Path(), d, res.Duration.Seconds(), res.Reached, res.Err)
	} else {
		logger.Infof("[%s] Plot file %s moved to %s, time: %.1f s, avg speed: %.0f MiB/s",
			w.Tag, c.Path(), d, res.Duration.Seconds(), res.SpeedMiB)
	}

	if w.Journal != nil {
		if err := w.Journal.Finish(res.ID, res.Status(), res.Duration, res.SpeedMiB, res.Err); err != nil {
			logger.Warningf("[%s] Journal: %v", w.Tag, err)
		}
	}
	if w.Notifier != nil {
		ev := notify.Event{
			ID:          res.ID,
			Plot:        c.File,
			Source:      c.Path(),
			Destination: d.ID(),
			Status:      res.Status(),
			Size:        c.Size,
			Seconds:     res.Duration.Seconds(),
			SpeedMiB:    res.SpeedMiB,
		}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		_ = w.Notifier.Send(ctx, ev)
	}
	return res
}

// SpeedMiB is the average throughput in MiB/s, 0 when no time elapsed.
func SpeedMiB(size int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || size <= 0 {
		return 0
	}
	return float64(size) / secs / (1 << 20)
}
