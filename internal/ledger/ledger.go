// Package ledger tracks which plot files and destinations are owned by an
// in-flight transfer.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCorrupt is the panic value wrapped by Release when asked to free an
// entry that was never reserved.
var ErrCorrupt = errors.New("reservation ledger corrupt")

// Reserver is the subset of the ledger used by the scanner, the selector and
// the transfer workers.
type Reserver interface {
	TryReserve(file, dest string) bool
	Release(file, dest string)
	IsFileReserved(file string) bool
	IsDestinationReserved(dest string) bool
}

// Ledger is an in-memory reservation set. All methods are safe for
// concurrent use; the lock is only held for the set operation itself.
type Ledger struct {
	mu    sync.Mutex
	files map[string]struct{}
	dests map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		files: make(map[string]struct{}),
		dests: make(map[string]struct{}),
	}
}

// TryReserve marks both file and dest as reserved. It returns false without
// changing anything if either one is already held.
func (l *Ledger) TryReserve(file, dest string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.files[file]; ok {
		return false
	}
	if _, ok := l.dests[dest]; ok {
		return false
	}
	l.files[file] = struct{}{}
	l.dests[dest] = struct{}{}
	return true
}

// Release frees a pair previously taken with TryReserve. Releasing a pair
// that is not fully reserved panics with an error wrapping ErrCorrupt.
func (l *Ledger) Release(file, dest string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, haveFile := l.files[file]
	_, haveDest := l.dests[dest]
	if !haveFile || !haveDest {
		panic(fmt.Errorf("%w: release of %q -> %q without reservation (file=%t dest=%t)",
			ErrCorrupt, file, dest, haveFile, haveDest))
	}
	delete(l.files, file)
	delete(l.dests, dest)
}

func (l *Ledger) IsFileReserved(file string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.files[file]
	return ok
}

func (l *Ledger) IsDestinationReserved(dest string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dests[dest]
	return ok
}

// Snapshot returns sorted copies of the reserved files and destinations.
func (l *Ledger) Snapshot() (files, dests []string) {
	l.mu.Lock()
	files = make([]string, 0, len(l.files))
	for f := range l.files {
		files = append(files, f)
	}
	dests = make([]string, 0, len(l.dests))
	for d := range l.dests {
		dests = append(dests, d)
	}
	l.mu.Unlock()

	sort.Strings(files)
	sort.Strings(dests)
	return files, dests
}
