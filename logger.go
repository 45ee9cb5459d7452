package iwldvm

// Logger defines the logging interface for simple string messages.
// Messages on the per-frame receive path are only built when a logger other
// than the no-op one is installed.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

var globalLogger Logger = &nopLogger{}

// SetLogger sets the global logger instance.
func SetLogger(l Logger) {
	if l == nil {
		globalLogger = &nopLogger{}
		return
	}
	globalLogger = l
}

// debugEnabled reports whether debug messages would go anywhere.
func debugEnabled() bool {
	_, nop := globalLogger.(*nopLogger)
	return !nop
}

// nopLogger is a logger that does nothing.
type nopLogger struct{}

func (l *nopLogger) Debug(msg string) {}
func (l *nopLogger) Info(msg string)  {}
func (l *nopLogger) Warn(msg string)  {}
func (l *nopLogger) Error(msg string) {}
