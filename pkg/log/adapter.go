package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements the badger.Logger interface using logrus.
// Badger's own info chatter is demoted to debug so the state store stays quiet
// during a normal archive run.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter tagged with component=badger
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...any) { l.Entry.Errorf(trimNewline(f), v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...any) { l.Entry.Warnf(trimNewline(f), v...) }

// Infof logs badger info messages at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...any) { l.Entry.Debugf(trimNewline(f), v...) }

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...any) { l.Entry.Tracef(trimNewline(f), v...) }

// badger terminates most format strings with a newline
func trimNewline(f string) string {
	return strings.TrimRight(f, "\n")
}

// NewLogger creates a configured logrus.Logger with the given level name.
// An invalid level falls back to info and is reported through the returned logger.
func NewLogger(levelName string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)
	if out != nil {
		logger.SetOutput(out)
	}

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
	} else {
		logger.SetLevel(level)
	}
	return logger
}
