// Package wlog provides the compositor's structured loggers. Every
// component logs through a logger keyed with its component name so
// that diagnostics can be filtered per subsystem.
package wlog

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var root = log.New(os.Stderr)

func init() {
	SetLevel(os.Getenv("LOON_LOG"))
}

// SetLevel sets the global log level from a level name. Unknown or
// empty names select info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		root.SetLevel(log.DebugLevel)
	case "warn", "warning":
		root.SetLevel(log.WarnLevel)
	case "error":
		root.SetLevel(log.ErrorLevel)
	default:
		root.SetLevel(log.InfoLevel)
	}
}

// Component returns a logger for the named compositor component.
func Component(name string) *log.Logger {
	return root.With("component", name)
}
