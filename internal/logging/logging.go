// Package logging defines the leveled logger shared by the agent packages.
// It matches service.Logger so the system logger can be passed straight in.
package logging

var DebugMode bool

type Logger interface {
	Info(v ...interface{}) error
	Infof(format string, v ...interface{}) error
	Error(v ...interface{}) error
	Errorf(format string, v ...interface{}) error
	Warning(v ...interface{}) error
	Warningf(format string, v ...interface{}) error
}

// Debugf logs through Infof with a [DEBUG] prefix when DebugMode is set.
func Debugf(logger Logger, format string, v ...interface{}) {
	if DebugMode && logger != nil {
		logger.Infof("[DEBUG] "+format, v...)
	}
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard{}
	}
	return l
}

type Discard struct{}

func (Discard) Info(v ...interface{}) error                    { return nil }
func (Discard) Infof(format string, v ...interface{}) error    { return nil }
func (Discard) Error(v ...interface{}) error                   { return nil }
func (Discard) Errorf(format string, v ...interface{}) error   { return nil }
func (Discard) Warning(v ...interface{}) error                 { return nil }
func (Discard) Warningf(format string, v ...interface{}) error { return nil }
