package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; expected %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "test", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info message written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Warn message missing: %q", out)
	}
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "test", "debug")
	logger.Warn().Msg("suppressed")

	if buf.Len() != 0 {
		t.Errorf("Env level not applied: %q", buf.String())
	}
}
