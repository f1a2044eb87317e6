package core

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// newNopLogger returns a logger that discards everything. Its level is set
// to panic so that Debug/Info calls return before formatting.
func newNopLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

var loggerPtr atomic.Pointer[logrus.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger shared by every emojimk package.
// By default nothing is logged. Passing nil restores the silent default.
//
// Levels in use:
//   - Debug: planning decisions and freshness reasons
//   - Info: rules started, targets already up to date
//   - Warn: recoverable oddities (no glyph images found)
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current shared logger. Safe for concurrent use.
func Logger() *logrus.Logger {
	return loggerPtr.Load()
}
