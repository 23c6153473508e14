// Package logger wraps logrus behind a small interface so every
// component in this module takes a Logger at construction time instead
// of reaching for a package-level logger.
package logger

import (
	"bytes"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every phase component depends on.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Debug(args ...any)
	Debugf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Panic(args ...any)
	Panicf(format string, args ...any)
	Trace(args ...any)
	Tracef(format string, args ...any)

	SetLevel(level logrus.Level)
	GetLevel() logrus.Level
	SetOutput(w io.Writer)
	SetFormatter(f logrus.Formatter)
}

type logrusLogger struct {
	*logrus.Logger
}

func (l *logrusLogger) SetLevel(level logrus.Level)  { l.Logger.SetLevel(level) }
func (l *logrusLogger) GetLevel() logrus.Level        { return l.Logger.GetLevel() }
func (l *logrusLogger) SetOutput(w io.Writer)         { l.Logger.SetOutput(w) }
func (l *logrusLogger) SetFormatter(f logrus.Formatter) { l.Logger.SetFormatter(f) }

// New builds a text-formatted logger writing to stderr at InfoLevel.
func New() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{l}
}

// NewNull builds a logger that discards everything, for --dry-run and tests.
func NewNull() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{l}
}

// NewBuffer builds a logger that writes to buf, for test assertions.
func NewBuffer(buf *bytes.Buffer) Logger {
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &logrusLogger{l}
}
