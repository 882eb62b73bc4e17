package core

import (
	"testing"
	"time"

	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_LocalMode(t *testing.T) {
	cfg := &config.Config{
		Sources:   []string{"/ssd"},
		Dests:     []string{"/hdd1", "/hdd2"},
		Debounce:  time.Second,
		Sleep:     time.Minute,
		MinSize:   "83GB",
		Extension: ".plot",
	}
	require.NoError(t, cfg.Validate())

	e := NewEngine(cfg, Deps{})
	w, ok := e.Worker.(*transfer.Worker)
	require.True(t, ok)
	assert.IsType(t, &transfer.LocalMover{}, w.Mover)
	assert.Equal(t, "move", w.Tag)
	assert.Same(t, e.Ledger, w.Ledger, "worker and loop must share one ledger")
	assert.Nil(t, w.Journal)

	sel, ok := e.Selector.(*dest.Selector)
	require.True(t, ok)
	assert.Equal(t, []dest.Destination{dest.Local("/hdd1"), dest.Local("/hdd2")}, sel.Destinations)
	assert.Equal(t, time.Second, e.Debounce)
}

func TestNewEngine_RemoteMode(t *testing.T) {
	cfg := &config.Config{
		Sources:               []string{"/ssd"},
		Dests:                 []string{"/hdd1"},
		Rsync:                 []config.RsyncTarget{{Host: "farmer", Dir: "/plots"}},
		MinSize:               "83GB",
		Extension:             ".plot",
		RsyncBinary:           "/usr/bin/rsync",
		RsyncArgs:             []string{"--bwlimit=100M", "--partial"},
		CheckRemoteDuplicates: true,
	}
	require.NoError(t, cfg.Validate())

	e := NewEngine(cfg, Deps{})
	w := e.Worker.(*transfer.Worker)
	m, ok := w.Mover.(*transfer.RsyncMover)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/rsync", m.Binary)
	assert.True(t, m.CheckExisting)
	assert.Equal(t, []string{"--bwlimit=100M", "--partial"}, m.ExtraArgs)
	assert.Equal(t, "rsync", w.Tag)
}
