package core

import (
	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/spf13/afero"
)

// Deps are the optional collaborators of an engine. Nil fields are skipped.
type Deps struct {
	FS       afero.Fs
	Journal  transfer.Journal
	Notifier transfer.Notifier
	Logger   logging.Logger
}

// NewEngine wires scanner, selector, ledger and worker from cfg. The
// transfer mode is fixed here for the life of the engine.
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	fs := deps.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := logging.OrDiscard(deps.Logger)
	l := ledger.New()

	scanner := plot.NewScanner(fs, cfg.MinSizeBytes, logger)
	scanner.Ext = cfg.Extension

	worker := &transfer.Worker{
		Ledger:   l,
		Journal:  deps.Journal,
		Notifier: deps.Notifier,
		Logger:   logger,
	}
	if cfg.Mode() == config.ModeRemote {
		m := transfer.NewRsyncMover(cfg.RsyncBinary, cfg.CheckRemoteDuplicates)
		m.ExtraArgs = cfg.RsyncArgs
		worker.Mover = m
		worker.Tag = "rsync"
	} else {
		worker.Mover = transfer.NewLocalMover(fs)
		worker.Tag = "move"
	}

	return &Engine{
		Sources:         cfg.Sources,
		Debounce:        cfg.Debounce,
		Sleep:           cfg.Sleep,
		Ext:             cfg.Extension,
		DisableFsnotify: cfg.DisableFsnotify,
		Scanner:         scanner,
		Selector:        dest.NewSelector(cfg.Destinations(), logger),
		Worker:          worker,
		Ledger:          l,
		Logger:          logger,
	}
}
