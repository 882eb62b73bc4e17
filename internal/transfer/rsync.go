package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/plot"
)

// Output is what a finished external command left behind.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		out.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		}
		if out.Stderr != "" {
			return out, fmt.Errorf("%s: %w (stderr: %s)", name, err, out.Stderr)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// RsyncMover hands the plot to rsync with archive mode and
// --remove-source-files, so the source disappears only after the remote copy
// is complete.
//
// Unlike LocalMover it does not look for an existing plot on the remote side
// unless CheckExisting is set, in which case it asks the host over ssh first.
type RsyncMover struct {
	Binary        string
	SSHBinary     string
	ExtraArgs     []string
	CheckExisting bool
	Runner        Runner
}

func NewRsyncMover(binary string, checkExisting bool) *RsyncMover {
	if binary == "" {
		binary = "rsync"
	}
	return &RsyncMover{
		Binary:        binary,
		SSHBinary:     "ssh",
		CheckExisting: checkExisting,
		Runner:        ExecRunner{},
	}
}

func (m *RsyncMover) Move(ctx context.Context, c plot.Candidate, d dest.Destination) (State, error) {
	if !d.IsRemote() {
		return StateReserved, fmt.Errorf("rsync destination %s has no host", d)
	}

	if m.CheckExisting {
		remotePath := path.Join(d.Path, c.File)
		out, err := m.Runner.Run(ctx, m.SSHBinary, d.Host, "test", "-e", shellQuote(remotePath))
		switch {
		case err == nil:
			return StateReserved, fmt.Errorf("%w: %s:%s", ErrDuplicate, d.Host, remotePath)
		case out.ExitCode == 1:
			// test -e: not there
		default:
			return StateReserved, fmt.Errorf("check %s:%s: %w", d.Host, remotePath, err)
		}
	}

	args := append([]string{"-a", "--remove-source-files"}, m.ExtraArgs...)
	args = append(args, c.Path(), d.Host+":"+strings.TrimSuffix(d.Path, "/")+"/")

	if _, err := m.Runner.Run(ctx, m.Binary, args...); err != nil {
		return StateInFlight, fmt.Errorf("rsync %s to %s: %w", c.Path(), d, err)
	}
	return StateInFlight, nil
}

// CheckDir verifies over ssh that the target directory exists on its host.
func (m *RsyncMover) CheckDir(ctx context.Context, d dest.Destination) error {
	if !d.IsRemote() {
		return fmt.Errorf("rsync destination %s has no host", d)
	}
	if _, err := m.Runner.Run(ctx, m.SSHBinary, d.Host, "test", "-d", shellQuote(d.Path)); err != nil {
		return fmt.Errorf("check %s: %w", d, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
