package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reserved wire fields and the closed set of tags the harness understands.
const (
	fieldClassTag  = "__class__"
	fieldModuleTag = "__module__"

	moduleParameters    = "sjparameters"
	moduleConfiguration = "configuration"

	classInteger       = "sjIntegerParameter"
	classFloat         = "sjFloatParameter"
	classSwitch        = "sjSwitchParameter"
	classPermutation   = "sjPermutationParameter"
	classComposition   = "sjCompositionParameter"
	classConfiguration = "Configuration"
)

type wireTag struct {
	module string
	class  string
}

type decodeFunc func(fields map[string]any) (any, error)

var decoders = map[wireTag]decodeFunc{
	{moduleParameters, classInteger}:          decodeInteger,
	{moduleParameters, classFloat}:            decodeFloat,
	{moduleParameters, classSwitch}:           decodeSwitch,
	{moduleParameters, classPermutation}:      decodePermutation,
	{moduleParameters, classComposition}:      decodeComposition,
	{moduleConfiguration, classConfiguration}: decodeConfiguration,
}

// EncodeOptions adjusts a single encoding without touching the configuration.
type EncodeOptions struct {
	// ExtraData entries are added to, or replace, the root's extra data.
	ExtraData map[string]ExtraData
}

type configurationRecord struct {
	Module     string                    `json:"__module__"`
	Tag        string                    `json:"__class__"`
	Class      string                    `json:"class"`
	Params     map[string]Parameter      `json:"params"`
	Subconfigs map[string]*Configuration `json:"subconfigs"`
	ExtraData  map[string][2]any         `json:"extraData"`
}

// MarshalJSON encodes the configuration tree as a tagged wire record.
func (c *Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.record(nil))
}

func (c *Configuration) record(override map[string]ExtraData) configurationRecord {
	extra := make(map[string][2]any, len(c.extraData)+len(override))
	for k, ed := range c.extraData {
		extra[k] = [2]any{ed.TypeTag, ed.Payload}
	}
	for k, ed := range override {
		extra[k] = [2]any{ed.TypeTag, ed.Payload}
	}
	return configurationRecord{
		Module:     moduleConfiguration,
		Tag:        classConfiguration,
		Class:      c.class,
		Params:     c.params,
		Subconfigs: c.subconfigs,
		ExtraData:  extra,
	}
}

// Encode writes the configuration as a wire document.
func Encode(c *Configuration) ([]byte, error) {
	return EncodeWithOptions(c, EncodeOptions{})
}

// EncodeWithOptions writes the configuration as a wire document with the
// given adjustments applied to the root record only.
func EncodeWithOptions(c *Configuration, opts EncodeOptions) ([]byte, error) {
	data, err := json.Marshal(c.record(opts.ExtraData))
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return data, nil
}

// Decode rebuilds a configuration tree from a wire document.
func Decode(data []byte) (*Configuration, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, NewDeserializationError("malformed configuration document", err)
	}
	if dec.More() {
		return nil, NewDeserializationError("trailing data after configuration document", nil)
	}
	v, err := reconstruct(raw)
	if err != nil {
		return nil, err
	}
	cfg, ok := v.(*Configuration)
	if !ok {
		return nil, NewDeserializationError(fmt.Sprintf("document root is %T, not a configuration", v), nil)
	}
	return cfg, nil
}

// reconstruct rebuilds tagged records bottom-up. Objects carrying neither tag
// stay plain maps.
func reconstruct(v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		for k, e := range tv {
			r, err := reconstruct(e)
			if err != nil {
				return nil, err
			}
			tv[k] = r
		}
		module, hasModule := tv[fieldModuleTag]
		class, hasClass := tv[fieldClassTag]
		if !hasModule && !hasClass {
			return tv, nil
		}
		ms, mok := module.(string)
		cs, cok := class.(string)
		if !hasModule || !hasClass || !mok || !cok {
			return nil, NewDeserializationError("record has an incomplete class tag", nil).
				WithDetail(fieldModuleTag, module).
				WithDetail(fieldClassTag, class)
		}
		decode, ok := decoders[wireTag{ms, cs}]
		if !ok {
			return nil, NewDeserializationError(fmt.Sprintf("unknown class tag %s.%s", ms, cs), nil)
		}
		return decode(tv)
	case []any:
		for i, e := range tv {
			r, err := reconstruct(e)
			if err != nil {
				return nil, err
			}
			tv[i] = r
		}
		return tv, nil
	default:
		return v, nil
	}
}

func stringField(fields map[string]any, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", NewDeserializationError(fmt.Sprintf("missing field %q", name), nil)
	}
	s, ok := v.(string)
	if !ok {
		return "", NewDeserializationError(fmt.Sprintf("field %q is %T, not a string", name, v), nil)
	}
	return s, nil
}

func optionalStringField(fields map[string]any, name string, fallback string) (string, error) {
	if _, ok := fields[name]; !ok {
		return fallback, nil
	}
	return stringField(fields, name)
}

func intField(fields map[string]any, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, NewDeserializationError(fmt.Sprintf("missing field %q", name), nil)
	}
	n, ok := toInt(v)
	if !ok {
		return 0, NewDeserializationError(fmt.Sprintf("field %q is not an integer", name), nil)
	}
	return n, nil
}

func floatField(fields map[string]any, name string) (float64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, NewDeserializationError(fmt.Sprintf("missing field %q", name), nil)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, NewDeserializationError(fmt.Sprintf("field %q is not a number", name), nil)
	}
	return f, nil
}

func listField(fields map[string]any, name string) ([]any, error) {
	v, ok := fields[name]
	if !ok {
		return nil, NewDeserializationError(fmt.Sprintf("missing field %q", name), nil)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, NewDeserializationError(fmt.Sprintf("field %q is %T, not a list", name, v), nil)
	}
	return list, nil
}

func mapField(fields map[string]any, name string) (map[string]any, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, NewDeserializationError(fmt.Sprintf("field %q is %T, not an object", name, v), nil)
	}
	return m, nil
}

func invalidRecord(kind string, err error) error {
	return NewDeserializationError(fmt.Sprintf("invalid %s record", kind), err)
}

func decodeInteger(fields map[string]any) (any, error) {
	name, err := stringField(fields, "name")
	if err != nil {
		return nil, err
	}
	class, err := optionalStringField(fields, "class", IntegerClassTag)
	if err != nil {
		return nil, err
	}
	lo, err := intField(fields, "min")
	if err != nil {
		return nil, err
	}
	hi, err := intField(fields, "max")
	if err != nil {
		return nil, err
	}
	value, err := intField(fields, "value")
	if err != nil {
		return nil, err
	}
	p, err := NewIntegerParameter(name, lo, hi, value)
	if err != nil {
		return nil, invalidRecord(classInteger, err)
	}
	p.class = class
	return p, nil
}

func decodeFloat(fields map[string]any) (any, error) {
	name, err := stringField(fields, "name")
	if err != nil {
		return nil, err
	}
	class, err := optionalStringField(fields, "class", FloatClassTag)
	if err != nil {
		return nil, err
	}
	lo, err := floatField(fields, "min")
	if err != nil {
		return nil, err
	}
	hi, err := floatField(fields, "max")
	if err != nil {
		return nil, err
	}
	value, err := floatField(fields, "value")
	if err != nil {
		return nil, err
	}
	p, err := NewFloatParameter(name, lo, hi, value)
	if err != nil {
		return nil, invalidRecord(classFloat, err)
	}
	p.class = class
	return p, nil
}

func decodeSwitch(fields map[string]any) (any, error) {
	name, err := stringField(fields, "name")
	if err != nil {
		return nil, err
	}
	class, err := optionalStringField(fields, "class", SwitchClassTag)
	if err != nil {
		return nil, err
	}
	universeType, err := optionalStringField(fields, "universeType", "")
	if err != nil {
		return nil, err
	}
	universe, err := listField(fields, "universe")
	if err != nil {
		return nil, err
	}
	index, err := intField(fields, "value")
	if err != nil {
		return nil, err
	}
	p, err := NewSwitchParameter(name, universeType, universe, index)
	if err != nil {
		return nil, invalidRecord(classSwitch, err)
	}
	p.class = class
	return p, nil
}

func decodePermutation(fields map[string]any) (any, error) {
	name, err := stringField(fields, "name")
	if err != nil {
		return nil, err
	}
	class, err := optionalStringField(fields, "class", PermutationClassTag)
	if err != nil {
		return nil, err
	}
	universeType, err := optionalStringField(fields, "universeType", "")
	if err != nil {
		return nil, err
	}
	universe, err := listField(fields, "universe")
	if err != nil {
		return nil, err
	}
	p, err := NewPermutationParameter(name, universeType, universe)
	if err != nil {
		return nil, invalidRecord(classPermutation, err)
	}
	p.class = class
	return p, nil
}

func decodeComposition(fields map[string]any) (any, error) {
	name, err := stringField(fields, "name")
	if err != nil {
		return nil, err
	}
	class, err := optionalStringField(fields, "class", CompositionClassTag)
	if err != nil {
		return nil, err
	}
	list, err := listField(fields, "values")
	if err != nil {
		return nil, err
	}
	values, ok := toFloatSlice(list)
	if !ok {
		return nil, NewDeserializationError("field \"values\" is not a list of numbers", nil)
	}
	p, err := NewCompositionParameterWithValues(name, values)
	if err != nil {
		return nil, invalidRecord(classComposition, err)
	}
	p.class = class
	return p, nil
}

func decodeConfiguration(fields map[string]any) (any, error) {
	cfg := NewConfiguration()
	class, err := optionalStringField(fields, "class", ConfigurationClassTag)
	if err != nil {
		return nil, err
	}
	cfg.class = class

	params, err := mapField(fields, "params")
	if err != nil {
		return nil, err
	}
	for id, v := range params {
		p, ok := v.(Parameter)
		if !ok {
			return nil, NewDeserializationError(fmt.Sprintf("params entry %q is %T, not a parameter", id, v), nil)
		}
		if err := cfg.addParameter(id, p); err != nil {
			return nil, NewDeserializationError("duplicate parameter", err)
		}
	}

	subconfigs, err := mapField(fields, "subconfigs")
	if err != nil {
		return nil, err
	}
	for id, v := range subconfigs {
		sub, ok := v.(*Configuration)
		if !ok {
			return nil, NewDeserializationError(fmt.Sprintf("subconfigs entry %q is %T, not a configuration", id, v), nil)
		}
		cfg.subconfigs[id] = sub
	}

	extra, err := mapField(fields, "extraData")
	if err != nil {
		return nil, err
	}
	for key, v := range extra {
		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			return nil, NewDeserializationError(fmt.Sprintf("extraData entry %q is not a [type, payload] pair", key), nil)
		}
		typeTag, ok := pair[0].(string)
		if !ok {
			return nil, NewDeserializationError(fmt.Sprintf("extraData entry %q has a non-string type tag", key), nil)
		}
		payload, err := json.Marshal(pair[1])
		if err != nil {
			return nil, NewDeserializationError(fmt.Sprintf("extraData entry %q has an unencodable payload", key), err)
		}
		cfg.extraData[key] = ExtraData{TypeTag: typeTag, Payload: payload}
	}
	return cfg, nil
}
