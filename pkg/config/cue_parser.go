package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser loads settings written in CUE. Sources are unified with each
// other and with the #Settings schema, so a settings package may be split
// across files.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	sr := NewSchemaRegistry()
	return &CUEParser{
		ctx:            sr.Context(),
		schemaRegistry: sr,
	}
}

// Parse evaluates the given CUE files or package directories and decodes
// the result into Settings. Errors carry their source positions.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Settings, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var (
		cueValue    cue.Value
		parseErrors ValidationErrors
	)

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var (
			val  cue.Value
			errs []ValidationError
		)
		if info.IsDir() {
			val, errs = cp.loadDirectory(source)
		} else {
			val, errs = cp.loadFile(source)
		}
		parseErrors = append(parseErrors, errs...)
		if !val.Exists() {
			continue
		}
		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
	}

	if len(parseErrors) > 0 {
		return nil, parseErrors
	}

	return cp.decode(cueValue)
}

// ParseInline parses settings from inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Settings, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, ValidationErrors(cp.convertCUEErrors(err))
	}
	return cp.decode(val)
}

// decode unifies val with the settings schema and decodes it.
func (cp *CUEParser) decode(val cue.Value) (*Settings, error) {
	schema, ok := cp.schemaRegistry.GetSchema(SchemaSettings)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", SchemaSettings)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, ValidationErrors(cp.convertCUEErrors(err))
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export settings: %w", err)
	}

	return ParseJSON(data)
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, []ValidationError{{
			File:    dir,
			Message: "no CUE files found",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var (
			file         string
			line, column int
		)
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}

	return validationErrors
}
