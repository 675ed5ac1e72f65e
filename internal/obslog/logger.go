// Package obslog is a thin wrapper around zerolog.Logger, injected into
// the collaborator that logs (the Sync Engine, via NewEngine) rather
// than reached for as a package global.
package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger embeds zerolog.Logger so the full zerolog API (Debug/Info/Warn/
// Error) is available directly, while giving this module its own type to
// construct and pass around explicitly.
type Logger struct {
	zerolog.Logger
}

// New constructs a JSON logger writing to stdout, tagged with a
// "component" field so log lines from the sync engine, key manager, and
// protocol layer can be told apart.
func New(component string) *Logger {
	l := zerolog.New(os.Stdout).With().
		Str("component", component).
		Timestamp().
		Logger()
	return &Logger{l}
}

// Nop returns a Logger that discards everything; used by tests and by
// callers that have not configured logging.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// With returns a child logger carrying an extra string field, without
// mutating the receiver.
func (l *Logger) With(key, value string) *Logger {
	child := l.Logger.With().Str(key, value).Logger()
	return &Logger{child}
}
