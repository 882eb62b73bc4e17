package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one line captured by a Recorder.
type Entry struct {
	Level   string
	Message string
}

// Recorder keeps every logged line in memory. Used by tests to assert on
// warnings and errors.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) add(level, msg string) error {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Info(v ...interface{}) error { return r.add("info", fmt.Sprint(v...)) }
func (r *Recorder) Infof(format string, v ...interface{}) error {
	return r.add("info", fmt.Sprintf(format, v...))
}
func (r *Recorder) Error(v ...interface{}) error { return r.add("error", fmt.Sprint(v...)) }
func (r *Recorder) Errorf(format string, v ...interface{}) error {
	return r.add("error", fmt.Sprintf(format, v...))
}
func (r *Recorder) Warning(v ...interface{}) error { return r.add("warning", fmt.Sprint(v...)) }
func (r *Recorder) Warningf(format string, v ...interface{}) error {
	return r.add("warning", fmt.Sprintf(format, v...))
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Contains reports whether a line at level contains substr.
func (r *Recorder) Contains(level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
