// Package transfer moves a reserved plot to its reserved destination.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/spf13/afero"
)

// TempSuffix marks a plot that is still being written to its destination.
const TempSuffix = ".move"

// TempPath returns where an interrupted local move to destination leaves
// the plot. Remote IDs (host:dir) have no local artifact and report false.
func TempPath(destination, file string) (string, bool) {
	if !filepath.IsAbs(destination) && strings.Contains(destination, ":") {
		return "", false
	}
	return filepath.Join(destination, file+TempSuffix), true
}

// ErrDuplicate is returned when the destination already holds a file with
// the plot's name. The existing file is left untouched.
var ErrDuplicate = errors.New("plot already exists at destination")

// State is the lifecycle position of a transfer.
type State int

const (
	StateIdle State = iota
	StateReserved
	StateInFlight
	StateRenamed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReserved:
		return "Reserved"
	case StateInFlight:
		return "InFlight"
	case StateRenamed:
		return "Renamed"
	case StateReleased:
		return "Released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mover relocates one plot. It returns the furthest state it reached, which
// is meaningful on failure too.
type Mover interface {
	Move(ctx context.Context, c plot.Candidate, d dest.Destination) (State, error)
}

// LocalMover moves plots between local directories. The plot is first
// placed at <dest>/<name>.move and renamed to <dest>/<name> once all bytes
// are there, so a directory listing never shows a partial plot.
type LocalMover struct {
	FS afero.Fs
}

func NewLocalMover(fs afero.Fs) *LocalMover {
	return &LocalMover{FS: fs}
}

func (m *LocalMover) Move(ctx context.Context, c plot.Candidate, d dest.Destination) (State, error) {
	src := c.Path()
	final := filepath.Join(d.Path, c.File)
	temp := final + TempSuffix

	exists, err := afero.Exists(m.FS, final)
	if err != nil {
		return StateReserved, fmt.Errorf("check %s: %w", final, err)
	}
	if exists {
		return StateReserved, fmt.Errorf("%w: %s", ErrDuplicate, final)
	}

	if err := m.moveFile(src, temp); err != nil {
		return StateInFlight, fmt.Errorf("move %s to %s: %w", src, temp, err)
	}

	// Same directory, so this is a plain rename even across devices.
	if err := m.FS.Rename(temp, final); err != nil {
		return StateInFlight, fmt.Errorf("rename %s to %s: %w", temp, final, err)
	}
	return StateRenamed, nil
}

// moveFile renames src to dst, falling back to copy and delete when they
// live on different filesystems.
func (m *LocalMover) moveFile(src, dst string) error {
	err := m.FS.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	if err := m.copyFile(src, dst); err != nil {
		return err
	}
	return m.FS.Remove(src)
}

func (m *LocalMover) copyFile(src, dst string) error {
	in, err := m.FS.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := m.FS.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Keep the plot's mtime; ignore failures as the bytes are what matter.
	_ = m.FS.Chtimes(dst, time.Now(), info.ModTime())
	return nil
}
