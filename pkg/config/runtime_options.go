package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// optionsGlobal is the Starlark global holding the declared options.
const optionsGlobal = "options"

// RuntimeOptionLoader reads launch flag declarations from Starlark files:
//
//	options = [
//	    pow2("heap", 256, 8192, "-Xmx%dm"),
//	    choice("gc", ["G1", "Parallel"], 0, "-XX:+Use%sGC"),
//	    flag("compressedOops", "-XX:+UseCompressedOops"),
//	]
type RuntimeOptionLoader struct {
	evaluator *StarlarkEvaluator
	schemas   *SchemaRegistry
}

// NewRuntimeOptionLoader creates a loader whose scripts run for at most
// timeout.
func NewRuntimeOptionLoader(timeout time.Duration) *RuntimeOptionLoader {
	return &RuntimeOptionLoader{
		evaluator: NewStarlarkEvaluator(timeout),
		schemas:   NewSchemaRegistry(),
	}
}

// LoadFile evaluates the Starlark file at path.
func (l *RuntimeOptionLoader) LoadFile(ctx context.Context, path string, input map[string]interface{}) ([]*engine.RuntimeOption, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime options: %w", err)
	}
	return l.Load(ctx, filepath.Base(path), string(script), input)
}

// Load evaluates script and converts its options list, in order.
func (l *RuntimeOptionLoader) Load(ctx context.Context, filename, script string, input map[string]interface{}) ([]*engine.RuntimeOption, error) {
	result, err := l.evaluator.Evaluate(ctx, filename, script, input)
	if err != nil {
		return nil, err
	}

	raw, ok := result.Output[optionsGlobal]
	if !ok {
		return nil, fmt.Errorf("%s: no %q list declared", filename, optionsGlobal)
	}
	records, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: %q must be a list, got %T", filename, optionsGlobal, raw)
	}

	options := make([]*engine.RuntimeOption, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		record, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: option %d is not an option record", filename, i)
		}
		if err := l.schemas.ValidateAgainstSchema(ctx, SchemaRuntimeOption, record); err != nil {
			return nil, fmt.Errorf("%s: option %d: %w", filename, i, err)
		}

		opt, err := buildRuntimeOption(record)
		if err != nil {
			return nil, fmt.Errorf("%s: option %d: %w", filename, i, err)
		}
		name := opt.Parameter.Name()
		if seen[name] {
			return nil, fmt.Errorf("%s: duplicate option %s", filename, name)
		}
		seen[name] = true
		options = append(options, opt)
	}

	return options, nil
}

// buildRuntimeOption turns a schema-checked record into an option.
func buildRuntimeOption(record map[string]interface{}) (*engine.RuntimeOption, error) {
	name, _ := record["name"].(string)
	format, _ := record["format"].(string)

	switch record["kind"] {
	case "integer":
		p, err := engine.NewIntegerParameter(name, intField(record, "min"), intField(record, "max"), intField(record, "value"))
		if err != nil {
			return nil, err
		}
		return &engine.RuntimeOption{Parameter: p, Format: format}, nil
	case "pow2":
		return engine.NewPowerOfTwoOption(name, intField(record, "min"), intField(record, "max"), format)
	case "choice":
		items, _ := record["universe"].([]interface{})
		universeType, universe, err := inferUniverse(items)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", name, err)
		}
		p, err := engine.NewSwitchParameter(name, universeType, universe, intField(record, "index"))
		if err != nil {
			return nil, err
		}
		return &engine.RuntimeOption{Parameter: p, Format: format}, nil
	case "flag":
		return engine.NewFlagOption(name, format), nil
	default:
		return nil, fmt.Errorf("unknown option kind %v", record["kind"])
	}
}

func intField(record map[string]interface{}, key string) int {
	v, _ := record[key].(int64)
	return int(v)
}

// inferUniverse picks the element type tag of a homogeneous universe.
func inferUniverse(items []interface{}) (string, []any, error) {
	if len(items) == 0 {
		return "", nil, fmt.Errorf("empty universe")
	}

	var universeType string
	universe := make([]any, len(items))
	for i, item := range items {
		var t string
		switch v := item.(type) {
		case string:
			t = "java.lang.String"
			universe[i] = v
		case int64:
			t = "java.lang.Integer"
			universe[i] = int(v)
		case bool:
			t = "java.lang.Boolean"
			universe[i] = v
		default:
			return "", nil, fmt.Errorf("unsupported universe element %T", item)
		}
		if universeType != "" && t != universeType {
			return "", nil, fmt.Errorf("mixed universe element types %s and %s", universeType, t)
		}
		universeType = t
	}
	return universeType, universe, nil
}
