// Package logging provides the process-wide structured logger. It mirrors
// the teacher's common.Logger: a single logrus instance whose output is
// split across stdout/stderr by level, with per-component fields layered
// on via WithField (common/logging.go, coordinator.go's
// logger.WithField("component", ...) idiom).
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr when they carry
// "level=error" and to stdout otherwise, so container log collectors can
// treat the two streams differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger. Set its level once at startup via
// Init; every component derives a sub-logger from it with For.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Init applies the process log level (spec 6.1: loaded via viper at
// cmd/flowgraphd startup). An unrecognised level falls back to info.
func Init(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)
}

// For returns a sub-logger tagged with component, the teacher's
// convention for attributing log lines to the part of the system that
// produced them.
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
