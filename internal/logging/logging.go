// Package logging provides the process-wide structured logger used by every
// core component. Initialized once at process start with a minimum level
// derived from BUILDER_VERBOSE (design note §9:
// "avoid implicit globals in the cache and scheduler cores — pass an
// observer interface and let the CLI wire a logger"). Grounded on the
// lazydocker pkg/log package: a *logrus.Entry carrying fixed fields, built
// once and handed down to callers instead of referenced as a bare global.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a structured logging field set, re-exported so callers need not
// import logrus directly.
type Fields = logrus.Fields

// Logger is the narrow structured-logging surface the core depends on.
// Components accept a Logger rather than reaching for a package-level
// global, per design note §9. The Coordinator, Executor and lifecycle
// helpers treat nil as discard; the cache and checkpoint Load functions
// call it unconditionally and need a non-nil Logger.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(fields)}
}

func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// New builds a Logger writing to w (os.Stderr in production) at the given
// verbosity. verbose selects Debug level; otherwise Info.
func New(w io.Writer, verbose bool) Logger {
	log := logrus.New()
	log.Out = w
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return &entryLogger{entry: logrus.NewEntry(log)}
}

// Discard is a Logger that drops every record; used as the default when no
// logger is wired, and in tests.
var Discard Logger = New(io.Discard, false)

// NewFromEnv builds a Logger honoring BUILDER_VERBOSE, writing to stderr.
func NewFromEnv() Logger {
	return New(os.Stderr, os.Getenv("BUILDER_VERBOSE") != "")
}
