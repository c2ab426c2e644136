package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the subset of logrus.Entry used by pstack. Every layer gets
// its own Logger, enabled by a --log-output selector.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// LoggerFactory creates the loggers of every layer. fields and out may be
// nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the default factory, which builds logrus
// loggers using DefaultFormatter.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// Fields are attached to every entry of a Logger.
type Fields map[string]interface{}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}
