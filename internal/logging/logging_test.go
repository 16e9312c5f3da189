package logging_test

import (
	"log/slog"
	"testing"

	"github.com/meshwired/linkctl/internal/config"
	"github.com/meshwired/linkctl/internal/logging"
)

func TestNewSetsLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	logger := logging.New(config.LogConfig{Level: "debug", Format: "json"}, &level)

	if logger == nil {
		t.Fatal("New returned nil logger")
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want LevelDebug", level.Level())
	}
}

func TestReloadChangesLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	logging.New(config.LogConfig{Level: "info", Format: "text"}, &level)

	old := logging.Reload(config.LogConfig{Level: "error"}, &level)

	if old != slog.LevelInfo {
		t.Errorf("old level = %v, want LevelInfo", old)
	}
	if level.Level() != slog.LevelError {
		t.Errorf("level = %v, want LevelError", level.Level())
	}
}
