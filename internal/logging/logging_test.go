package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"defi-agent-engine/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewRespectsLevelAndEncoding(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "debug", Encoding: "console"})
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level not enabled")
	}
	logger = New(config.LoggingConfig{Level: "error"})
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at error level")
	}
}
