package iwldvm

import (
	"io"
	"log"

	"github.com/natefinch/lumberjack"
)

func init() {
	globalLogger = &stdLogger{l: log.Default()}
}

// stdLogger is a default logger that uses the standard library log package.
type stdLogger struct {
	l *log.Logger
}

// NewFileLogger returns a Logger writing to a size-rotated file.
// maxSizeMB and maxBackups fall back to 10 and 3 when zero.
func NewFileLogger(path string, maxSizeMB, maxBackups int) Logger {
	if maxSizeMB == 0 {
		maxSizeMB = 10
	}
	if maxBackups == 0 {
		maxBackups = 3
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return NewWriterLogger(w)
}

// NewWriterLogger returns a Logger writing timestamped lines to w.
func NewWriterLogger(w io.Writer) Logger {
	return &stdLogger{l: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) Debug(msg string) {
	l.l.Print("[DEBUG] " + msg)
}

func (l *stdLogger) Info(msg string) {
	l.l.Print("[INFO]  " + msg)
}

func (l *stdLogger) Warn(msg string) {
	l.l.Print("[WARN]  " + msg)
}

func (l *stdLogger) Error(msg string) {
	l.l.Print("[ERROR] " + msg)
}
