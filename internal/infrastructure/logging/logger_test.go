package logging

import (
	"log/slog"
	"testing"

	"github.com/nerrad567/kefd/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewAndWith(t *testing.T) {
	log := New(config.Logging{Level: "debug", Format: "text", Output: "stderr"}, "test")
	if log == nil || log.Logger == nil {
		t.Fatal("New returned nil logger")
	}

	child := log.With("component", "test")
	if child == nil || child.Logger == nil {
		t.Fatal("With returned nil logger")
	}
	child.Debug("child logger writes without panic")
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default returned nil")
	}
}
