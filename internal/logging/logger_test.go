package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range testCases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("info", "production")
	if err != nil {
		t.Fatalf("unexpected logger error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug logging to be suppressed at info level")
	}

	devLogger, err := NewLogger("debug", "development")
	if err != nil {
		t.Fatalf("unexpected logger error: %v", err)
	}
	if !devLogger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug logging to be enabled")
	}
}
