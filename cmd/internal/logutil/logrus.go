// Package logutil adapts logrus to drain.Logger for the command line tools.
package logutil

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/velmie/drain"
)

// New builds a logrus logger writing to out in the given level and format.
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", drain.ErrConfiguration, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger, nil
}

// Logger implements drain.Logger on top of a logrus entry.
type Logger struct {
	entry *logrus.Entry
}

var _ drain.Logger = Logger{}

// Wrap adapts logger. Fields are attached to every record.
func Wrap(logger *logrus.Logger, fields logrus.Fields) Logger {
	return Logger{entry: logger.WithFields(fields)}
}

// Debug implements drain.Logger.
func (l Logger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }

// Info implements drain.Logger.
func (l Logger) Info(msg string, args ...any) { l.with(args).Info(msg) }

// Warn implements drain.Logger.
func (l Logger) Warn(msg string, args ...any) { l.with(args).Warn(msg) }

// Error implements drain.Logger.
func (l Logger) Error(msg string, args ...any) { l.with(args).Error(msg) }

func (l Logger) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}

	return l.entry.WithFields(Fields(args))
}

// Fields converts key-value pairs into logrus fields. A trailing key without
// a value is recorded as "<missing>" and error values are stored as text.
func Fields(args []any) logrus.Fields {
	fields := make(logrus.Fields, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		var val any = "<missing>"
		if i+1 < len(args) {
			val = args[i+1]
		}
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		fields[key] = val
	}

	return fields
}
