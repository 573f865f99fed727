// Package logging configures logrus and bridges pion's internal logging to it.
package logging

import (
	"fmt"
	"io"

	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at the given level
func New(out io.Writer, level string, json bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// Discard returns an entry that drops everything, for tests
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// PionFactory hands pion a logger per scope, all writing through entry.
type PionFactory struct {
	Entry *logrus.Entry
}

// NewLogger implements logging.LoggerFactory
func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{entry: f.Entry.WithField("pion", scope)}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (l pionLogger) Trace(msg string)                  { l.entry.Trace(msg) }
func (l pionLogger) Tracef(format string, args ...any) { l.entry.Tracef(format, args...) }
func (l pionLogger) Debug(msg string)                  { l.entry.Debug(msg) }
func (l pionLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l pionLogger) Info(msg string)                   { l.entry.Info(msg) }
func (l pionLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l pionLogger) Warn(msg string)                   { l.entry.Warn(msg) }
func (l pionLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l pionLogger) Error(msg string)                  { l.entry.Error(msg) }
func (l pionLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
