package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schemas.
const (
	SchemaSettings      = "settings"
	SchemaRuntimeOption = "runtime-option"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. They are constants
// and compile.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema(SchemaSettings, builtinSettingsSchema, "#Settings")
	_ = sr.RegisterSchema(SchemaRuntimeOption, builtinRuntimeOptionSchema, "#RuntimeOption")
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSettingsSchema = `
// Settings schema for streamtune settings files
#Settings: {
	harness: {
		// Command is the harness executable
		command: string & !=""
		args?: [...string]
		workdir?: string
		env?: {[string]: string}
		timeout?:      #Duration
		grace_period?: #Duration
	}

	tuning: {
		// Program names the tuned stream program
		program: string & !=""

		// Configuration is the base configuration wire document
		configuration: string & !=""

		trials?: int & >=1
		seed?:   int
		techniques?: [...string & !=""]
		force_prefixes?: [...string & !=""]
		affinity_parameter?: string

		// Seeds are candidate overrides replayed by the fixed technique
		seeds?: [...{[string]: _}]
	}

	store?: {
		path?: string
	}

	// RuntimeOptions is a Starlark file declaring launch flags
	runtime_options?: string

	policies?: [...string & !=""]

	telemetry?: {
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?: "json" | "console"
			output?: string
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			path?:           string
		}
		tracing?: {
			enabled?:       bool
			exporter?:      "otlp" | "stdout" | "none"
			endpoint?:      string
			insecure?:      bool
			sampling_rate?: number & >=0 & <=1
		}
	}
}

// Duration is a Go duration string or a number of seconds
#Duration: string | number & >=0
`

const builtinRuntimeOptionSchema = `
// RuntimeOption schema for options declared in Starlark
#RuntimeOption: {
	kind:   "integer" | "pow2" | "choice" | "flag"
	name:   string & =~"^[A-Za-z_][A-Za-z0-9_.:-]*$"
	format: string & !=""

	min?:   int
	max?:   int
	value?: int

	universe?: [_, ...]
	index?:    int & >=0
}
`
