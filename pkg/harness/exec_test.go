//go:build unix

package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func TestDeliverOK(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	docCopy := filepath.Join(dir, "doc")
	script := writeScript(t, `
echo "$@" > "$ARGS_FILE"
for last; do :; done
cat "${last#@}" > "$DOC_COPY"
echo 3.25
`)

	transport, err := NewExecTransport(Config{
		Command: script,
		Args:    []string{"--run"},
		Env:     map[string]string{"ARGS_FILE": argsFile, "DOC_COPY": docCopy},
		TempDir: dir,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	doc := []byte(`{"__module__":"configuration","__class__":"Configuration"}`)
	resp, err := transport.Deliver(context.Background(), &engine.Request{
		Document:    doc,
		LaunchFlags: []string{"-Xmx1g"},
		Purpose:     engine.PurposeEvaluate,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.TrimSpace(resp.Stdout) != "3.25" {
		t.Errorf("Expected stdout 3.25, got %q", resp.Stdout)
	}
	if resp.Stderr != "" || resp.TimedOut || resp.ExitCode != 0 {
		t.Errorf("Expected clean run, got %+v", resp)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("Failed to read args: %v", err)
	}
	fields := strings.Fields(string(args))
	if len(fields) != 3 || fields[0] != "-Xmx1g" || fields[1] != "--run" || !strings.HasPrefix(fields[2], "@") {
		t.Errorf("Expected args [-Xmx1g --run @<file>], got %v", fields)
	}

	copied, err := os.ReadFile(docCopy)
	if err != nil {
		t.Fatalf("Failed to read document copy: %v", err)
	}
	if string(copied) != string(doc) {
		t.Errorf("Expected document %s, got %s", doc, copied)
	}

	if _, err := os.Stat(strings.TrimPrefix(fields[2], "@")); !os.IsNotExist(err) {
		t.Errorf("Expected document file to be removed, got %v", err)
	}
}

func TestDeliverTimeout(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"exits on SIGTERM", "sleep 30\n"},
		{"ignores SIGTERM", "trap '' TERM\nsleep 30\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewExecTransport(Config{
				Command:     writeScript(t, tt.script),
				Timeout:     200 * time.Millisecond,
				GracePeriod: 200 * time.Millisecond,
			}, zerolog.Nop())
			if err != nil {
				t.Fatalf("Failed to create transport: %v", err)
			}

			start := time.Now()
			resp, err := transport.Deliver(context.Background(), &engine.Request{Document: []byte("{}")})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !resp.TimedOut {
				t.Errorf("Expected timeout, got %+v", resp)
			}
			if elapsed := time.Since(start); elapsed > 10*time.Second {
				t.Errorf("Expected the harness to be stopped promptly, took %v", elapsed)
			}
		})
	}
}

func TestDeliverRequestTimeoutOverridesDefault(t *testing.T) {
	transport, err := NewExecTransport(Config{
		Command: writeScript(t, "sleep 30\n"),
		Timeout: time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	resp, err := transport.Deliver(context.Background(), &engine.Request{
		Document: []byte("{}"),
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.TimedOut {
		t.Error("Expected request timeout to apply")
	}
}

func TestDeliverNonZeroExit(t *testing.T) {
	transport, err := NewExecTransport(Config{Command: writeScript(t, "exit 3\n")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	resp, err := transport.Deliver(context.Background(), &engine.Request{Document: []byte("{}")})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", resp.ExitCode)
	}
	if !strings.Contains(resp.Stderr, "status 3") {
		t.Errorf("Expected synthesized error output, got %q", resp.Stderr)
	}
	if r := engine.Classify(resp); r.Outcome != engine.OutcomeError {
		t.Errorf("Expected ERROR classification, got %s", r.Outcome)
	}
}

func TestDeliverStderr(t *testing.T) {
	transport, err := NewExecTransport(Config{Command: writeScript(t, "echo 'TIMED OUT' >&2\n")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}

	resp, err := transport.Deliver(context.Background(), &engine.Request{Document: []byte("{}")})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r := engine.Classify(resp); r.Outcome != engine.OutcomeTimeout {
		t.Errorf("Expected TIMEOUT classification, got %s", r.Outcome)
	}
}

func TestDeliverMissingCommand(t *testing.T) {
	transport, err := NewExecTransport(Config{Command: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}
	if _, err := transport.Deliver(context.Background(), &engine.Request{Document: []byte("{}")}); err == nil {
		t.Error("Expected error for missing harness")
	}
}

func TestNewExecTransportRequiresCommand(t *testing.T) {
	if _, err := NewExecTransport(Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected error for empty command")
	}
}
