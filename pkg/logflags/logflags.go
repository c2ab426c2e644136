package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var ptrace = false
var unwind = false
var symbols = false
var trace = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = DefaultFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Ptrace returns true if every ptrace and wait request should be logged.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the thread attachment protocol.
func PtraceLogger() Logger {
	return makeFlaggableLogger(ptrace, Fields{"layer": "ptrace"})
}

// Unwind returns true if the stack walker should log each step.
func Unwind() bool {
	return unwind
}

// UnwindLogger returns a logger for the stack walker and its backend.
func UnwindLogger() Logger {
	return makeFlaggableLogger(unwind, Fields{"layer": "unwind"})
}

// Symbols returns true if symbol table loading should be logged.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for symbol tables.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Trace returns true if the aggregator should log per thread progress.
func Trace() bool {
	return trace
}

// TraceLogger returns a logger for the trace aggregator.
func TraceLogger() Logger {
	return makeFlaggableLogger(trace, Fields{"layer": "trace"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "pstack-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "trace"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "ptrace":
			ptrace = true
		case "unwind":
			unwind = true
		case "symbols":
			symbols = true
		case "trace":
			trace = true
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// DefaultFormatter provides a default formatter for log messages.
func DefaultFormatter() logrus.Formatter {
	return textFormatterInstance
}

var textFormatterInstance = &textFormatter{}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level)

	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, "%v ", layer)
	}
	fmt.Fprint(&b, entry.Message)

	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}
