package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: `heap = cores * 512`,
			input:  map[string]interface{}{"cores": 8},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["heap"] != int64(4096) {
					t.Errorf("expected heap=4096, got %v", sr.Output["heap"])
				}
			},
		},
		{
			name: "private globals and functions are dropped",
			script: `
def _double(x):
    return x * 2

def helper():
    return 1

_hidden = 3
shown = _double(_hidden)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["_hidden"]; ok {
					t.Error("expected private global to be dropped")
				}
				if _, ok := sr.Output["helper"]; ok {
					t.Error("expected function to be dropped")
				}
				if sr.Output["shown"] != int64(6) {
					t.Errorf("expected shown=6, got %v", sr.Output["shown"])
				}
			},
		},
		{
			name:   "option builtins return records",
			script: `opt = pow2("heap", 256, 1024, "-Xmx%dm")`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				rec, ok := sr.Output["opt"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected record, got %T", sr.Output["opt"])
				}
				if rec["kind"] != "pow2" || rec["name"] != "heap" || rec["max"] != int64(1024) {
					t.Errorf("unexpected record %v", rec)
				}
			},
		},
		{
			name:   "tuples become lists",
			script: `pair = (1, "a")`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				pair, ok := sr.Output["pair"].([]interface{})
				if !ok || len(pair) != 2 || pair[1] != "a" {
					t.Errorf("unexpected pair %v", sr.Output["pair"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `x = `,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `x = 1 // 0`,
			wantErr: true,
		},
		{
			name:    "bad builtin arguments",
			script:  `x = flag("only-name")`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if result == nil || result.Error == "" {
					t.Error("expected result to carry the error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.checkFunc(t, result)
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

x = spin()
`
	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("expected evaluation to stop promptly, took %v", time.Since(start))
	}
}

func TestStarlarkEvaluator_UnsupportedInput(t *testing.T) {
	evaluator := NewStarlarkEvaluator(0)
	_, err := evaluator.Evaluate(context.Background(), "x.star", `x = 1`, map[string]interface{}{
		"ch": make(chan int),
	})
	if err == nil {
		t.Error("expected error for unsupported input type")
	}
}
