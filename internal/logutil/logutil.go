// Package logutil centralizes logrus setup, matching the structured,
// leveled logging every repo in the pack wires through a single entry
// point rather than calling the log package directly from business code.
package logutil

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger for a task run. level accepts logrus's usual
// names (trace/debug/info/warn/error); an unrecognized value falls back to
// info rather than failing startup.
func New(level, taskName string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("task", taskName)
}
