package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DebugLevel,
		"info":  InfoLevel,
		"":      InfoLevel,
		"WARN":  WarnLevel,
		"error": ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatalf("expected error for bogus level")
	}
}

func TestLevelGatesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithLevel(WarnLevel), WithOutput(&buf))
	logger.Info("hidden")
	logger.Warn("shown", Str("queue", "fizbit"))
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "fizbit") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestWithFieldsCarry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithFormat("json"), WithOutput(&buf))
	logger.With(Component("gc")).Info("sweep done", Int("deleted", 3))
	out := buf.String()
	if !strings.Contains(out, `"component":"gc"`) || !strings.Contains(out, `"deleted":3`) {
		t.Fatalf("fields missing from entry: %q", out)
	}
}
