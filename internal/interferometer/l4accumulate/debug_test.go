package l4accumulate

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters_Enable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	if opsLogger == nil {
		t.Fatal("opsLogger should be non-nil after SetLogWriters with a writer")
	}
}

func TestSetLogWriters_Disable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	SetLogWriters(nil, nil, nil)

	if opsLogger != nil {
		t.Fatal("opsLogger should be nil after SetLogWriters(nil, nil, nil)")
	}
}

func TestOpsf_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	opsf("hello %s %d", "world", 42)

	output := buf.String()
	if !strings.Contains(output, "hello world 42") {
		t.Errorf("expected output to contain 'hello world 42', got %q", output)
	}
	if !strings.Contains(output, "[l4accumulate]") {
		t.Errorf("expected output to contain '[l4accumulate]' prefix, got %q", output)
	}
}

func TestDiagfTracef_NilLoggers(t *testing.T) {
	SetLogWriters(nil, nil, nil)

	// Should not panic.
	diagf("no-op %d", 1)
	tracef("no-op %d", 2)
}

func TestTracef_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(nil, nil, &buf)
	defer SetLogWriters(nil, nil, nil)

	tracef("trace %s", "event")

	if !strings.Contains(buf.String(), "trace event") {
		t.Errorf("expected output to contain 'trace event', got %q", buf.String())
	}
}
