// Package logging builds the structured logger shared by the daemon and its
// admin surface. It wraps log/slog directly rather than a third-party
// logging library, matching how the daemon this module is modelled on does
// its own logging.
package logging

import (
	"log/slog"
	"os"

	"github.com/meshwired/linkctl/internal/config"
)

// New creates a structured logger using a shared LevelVar so the level can
// be changed later (a SIGHUP reload, for instance) without rebuilding the
// handler.
func New(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(config.ParseLogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Reload re-parses cfg.Level and applies it to level in place, returning the
// previous level so the caller can log the change.
func Reload(cfg config.LogConfig, level *slog.LevelVar) slog.Level {
	old := level.Level()
	level.Set(config.ParseLogLevel(cfg.Level))
	return old
}
