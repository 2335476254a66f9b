package log

import (
	"bytes"
	"strings"
	"testing"
)

type recordingLogger struct {
	level Level
	msg   string
}

func (r *recordingLogger) Log(level Level, msg string, fields ...any) {
	r.level = level
	r.msg = msg
}

func TestGetDefaultsToNoOp(t *testing.T) {
	SetLogger(nil)
	if _, ok := Get().(NoOp); !ok {
		t.Fatalf("Get() = %T, want NoOp", Get())
	}
	Get().Log(LevelError, "should not panic")
}

func TestSetLoggerOverridesGlobal(t *testing.T) {
	rec := &recordingLogger{}
	SetLogger(rec)
	t.Cleanup(func() { SetLogger(nil) })

	Get().Log(LevelWarn, "hello")
	if rec.level != LevelWarn || rec.msg != "hello" {
		t.Fatalf("got level=%v msg=%q, want LevelWarn %q", rec.level, rec.msg, "hello")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
		Level(99):  "unknown",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestZerologWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, LevelInfo)
	logger.Log(LevelInfo, "evaluating", "pid", 42, "module", "main")

	out := buf.String()
	if !strings.Contains(out, "evaluating") {
		t.Fatalf("output missing message: %s", out)
	}
	if !strings.Contains(out, "42") || !strings.Contains(out, "main") {
		t.Fatalf("output missing fields: %s", out)
	}
}

func TestZerologHonoursMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, LevelWarn)
	logger.Log(LevelDebug, "should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected debug message to be filtered, got: %s", buf.String())
	}

	logger.Log(LevelError, "should appear")
	if buf.Len() == 0 {
		t.Fatal("expected error message to be written")
	}
}
