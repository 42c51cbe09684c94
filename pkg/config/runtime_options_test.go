package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

const jvmOptions = `
_heap_max = max_heap_mb if max_heap_mb else 8192

options = [
    pow2("heap", 256, _heap_max, "-Xmx%dm"),
    integer("tiers", 1, 4, 4, "-XX:TieredStopAtLevel=%d"),
    choice("gc", ["G1", "Parallel", "Serial"], 0, "-XX:+Use%sGC"),
    flag("compressedOops", "-XX:+UseCompressedOops"),
]
`

func TestRuntimeOptionLoader_Load(t *testing.T) {
	loader := NewRuntimeOptionLoader(5 * time.Second)

	options, err := loader.Load(context.Background(), "jvm.star", jvmOptions, map[string]interface{}{
		"max_heap_mb": 2048,
	})
	if err != nil {
		t.Fatalf("failed to load options: %v", err)
	}

	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.Parameter.Name()
	}
	if strings.Join(names, ",") != "heap,tiers,gc,compressedOops" {
		t.Fatalf("expected options in declaration order, got %v", names)
	}

	flags, err := engine.RenderFlags(options, engine.Store{})
	if err != nil {
		t.Fatalf("failed to render flags: %v", err)
	}
	expected := []string{"-Xmx256m", "-XX:TieredStopAtLevel=4", "-XX:+UseG1GC"}
	if strings.Join(flags, " ") != strings.Join(expected, " ") {
		t.Errorf("expected flags %v, got %v", expected, flags)
	}

	gc, ok := options[2].Parameter.(*engine.SwitchParameter)
	if !ok {
		t.Fatalf("expected switch for choice, got %T", options[2].Parameter)
	}
	if gc.UniverseType() != "java.lang.String" {
		t.Errorf("expected string universe, got %s", gc.UniverseType())
	}
}

func TestRuntimeOptionLoader_Errors(t *testing.T) {
	loader := NewRuntimeOptionLoader(5 * time.Second)

	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{name: "no options", script: `x = 1`, wantErr: "no \"options\" list"},
		{name: "not a list", script: `options = 3`, wantErr: "must be a list"},
		{name: "not a record", script: `options = ["heap"]`, wantErr: "not an option record"},
		{name: "duplicate", script: `options = [flag("a", "-A"), flag("a", "-B")]`, wantErr: "duplicate option a"},
		{name: "invalid range", script: `options = [integer("t", 5, 1, 3, "%d")]`, wantErr: "option 0"},
		{name: "no power of two", script: `options = [pow2("h", 5, 7, "%d")]`, wantErr: "option 0"},
		{name: "mixed universe", script: `options = [choice("c", ["a", 1], 0, "%v")]`, wantErr: "mixed universe"},
		{name: "index out of range", script: `options = [choice("c", ["a", "b"], 5, "%s")]`, wantErr: "option 0"},
		{name: "schema violation", script: `options = [flag("", "-X")]`, wantErr: "validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(context.Background(), "opts.star", tt.script, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRuntimeOptionLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jvm.star")
	if err := os.WriteFile(path, []byte(`options = [choice("threads", [1, 2, 4], 2, "-Dthreads=%d")]`), 0o644); err != nil {
		t.Fatalf("failed to write options: %v", err)
	}

	options, err := NewRuntimeOptionLoader(0).LoadFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("failed to load options: %v", err)
	}
	flags, err := engine.RenderFlags(options, engine.Store{})
	if err != nil {
		t.Fatalf("failed to render flags: %v", err)
	}
	if len(flags) != 1 || flags[0] != "-Dthreads=4" {
		t.Errorf("expected -Dthreads=4, got %v", flags)
	}

	if _, err := NewRuntimeOptionLoader(0).LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.star"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}
