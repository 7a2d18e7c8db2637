package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestConfigureLevels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"", slog.LevelInfo, slog.LevelDebug},
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"  WARN ", slog.LevelWarn, slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			if err := Configure(tt.level); err != nil {
				t.Fatalf("Configure(%q): %v", tt.level, err)
			}
			h := slog.Default().Handler()
			if !h.Enabled(context.Background(), tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if h.Enabled(context.Background(), tt.muted) {
				t.Errorf("level %v should be muted", tt.muted)
			}
		})
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if err := Configure("loud"); err == nil {
		t.Fatal("expected an error")
	}
}
