// Package logging wires the shared zerolog logger used by every layer of
// the engine: page store, indexed tree, collection layer, and CLI.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	level             = zerolog.InfoLevel
)

// SetOutput redirects all future component loggers to w. Loggers created
// before the call keep writing to the previous writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel controls the minimum level emitted by component loggers created
// after this call. Loggers created earlier keep the level they were
// created with, since Component fixes it on the returned zerolog.Logger.
func SetLevel(l zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// Component returns a logger tagged with the given component name, e.g.
// "storage", "index", "collection".
func Component(name string) zerolog.Logger {
	mu.Lock()
	w, l := out, level
	mu.Unlock()
	return zerolog.New(w).Level(l).With().Timestamp().Str("component", name).Logger()
}
