package machine

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestGlogLoggerCarriesTransitionFields(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewJSONLogger(buf, "trace")

	m := New(counterState{}, counterResolver(), &counterEnv{}, WithName("counter"), WithLogger(logger))
	defer m.Stop(context.Background())

	m.Dispatch(incr{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.WaitFor(ctx, func(s counterState) bool { return s.Count == 1 }); err != nil {
		t.Fatalf("wait: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "event_id") {
		if time.Now().After(deadline) {
			t.Fatalf("expected event correlation field in go-logger output: %s", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNilLoggerNormalizesToTextFallback(t *testing.T) {
	if _, ok := NormalizeLogger(nil).(*TextLogger); !ok {
		t.Fatalf("expected nil logger to normalize to TextLogger")
	}

	buf := &bytes.Buffer{}
	l := WithLoggerFields(NewTextLogger(buf, "debug"), map[string]any{"b": 2, "event_id": "e1", "machine": "auth"})
	l.Info("hello %s", "world")
	if !strings.Contains(buf.String(), "hello world machine=auth event_id=e1 b=2") {
		t.Fatalf("unexpected fallback output %q", buf.String())
	}
}

func TestTextLoggerDropsEntriesBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewTextLogger(buf, "warn")
	l.Debug("quiet")
	l.Info("quiet")
	l.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "WARN  loud") {
		t.Fatalf("unexpected output %q", out)
	}
}
