package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ConfigurationClassTag is the default class tag of a configuration record.
const ConfigurationClassTag = "edu.mit.streamjit.impl.common.Configuration"

// ExtraData is an opaque extra-data entry: a type tag naming the payload's
// external type and the payload itself as raw JSON.
type ExtraData struct {
	TypeTag string
	Payload json.RawMessage
}

// Configuration is a tree of parameters, nested configurations and extra data.
type Configuration struct {
	class      string
	params     map[string]Parameter
	subconfigs map[string]*Configuration
	extraData  map[string]ExtraData
}

// NewConfiguration creates an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{
		class:      ConfigurationClassTag,
		params:     make(map[string]Parameter),
		subconfigs: make(map[string]*Configuration),
		extraData:  make(map[string]ExtraData),
	}
}

// ClassTag returns the external class tag.
func (c *Configuration) ClassTag() string { return c.class }

// AddParameter adds p under its name.
func (c *Configuration) AddParameter(p Parameter) error {
	return c.addParameter(p.Name(), p)
}

func (c *Configuration) addParameter(id string, p Parameter) error {
	if _, exists := c.params[id]; exists {
		return fmt.Errorf("parameter %q already exists", id)
	}
	c.params[id] = p
	return nil
}

// Parameter returns the direct parameter with the given id.
func (c *Configuration) Parameter(id string) (Parameter, bool) {
	p, ok := c.params[id]
	return p, ok
}

// RemoveParameter removes the direct parameter with the given id.
func (c *Configuration) RemoveParameter(id string) {
	delete(c.params, id)
}

// ParameterIDs returns the ids of the direct parameters, sorted.
func (c *Configuration) ParameterIDs() []string { return sortedKeys(c.params) }

// AddSubconfiguration nests sub under id.
func (c *Configuration) AddSubconfiguration(id string, sub *Configuration) error {
	if sub == nil {
		return fmt.Errorf("subconfiguration %q is nil", id)
	}
	if _, exists := c.subconfigs[id]; exists {
		return fmt.Errorf("subconfiguration %q already exists", id)
	}
	c.subconfigs[id] = sub
	return nil
}

// Subconfiguration returns the nested configuration with the given id.
func (c *Configuration) Subconfiguration(id string) (*Configuration, bool) {
	sub, ok := c.subconfigs[id]
	return sub, ok
}

// SubconfigurationIDs returns the ids of the nested configurations, sorted.
func (c *Configuration) SubconfigurationIDs() []string { return sortedKeys(c.subconfigs) }

// PutExtraData stores payload under key with the given type tag.
func (c *Configuration) PutExtraData(key, typeTag string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode extra data %q: %w", key, err)
	}
	c.extraData[key] = ExtraData{TypeTag: typeTag, Payload: data}
	return nil
}

// ExtraData returns the extra-data entry stored under key.
func (c *Configuration) ExtraData(key string) (ExtraData, bool) {
	ed, ok := c.extraData[key]
	return ed, ok
}

// DecodeExtraData unmarshals the payload stored under key into target. It
// reports false when there is no such entry.
func (c *Configuration) DecodeExtraData(key string, target any) (bool, error) {
	ed, ok := c.extraData[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(ed.Payload, target); err != nil {
		return true, NewDeserializationError(fmt.Sprintf("extra data %q has an unexpected payload", key), err)
	}
	return true, nil
}

// RemoveExtraData removes the entry stored under key.
func (c *Configuration) RemoveExtraData(key string) {
	delete(c.extraData, key)
}

// ExtraDataKeys returns the extra-data keys, sorted.
func (c *Configuration) ExtraDataKeys() []string { return sortedKeys(c.extraData) }

// AllParameters returns every parameter of the tree: the direct parameters in
// id order, followed by those of each subconfiguration in id order.
func (c *Configuration) AllParameters() []Parameter {
	var out []Parameter
	for _, id := range c.ParameterIDs() {
		out = append(out, c.params[id])
	}
	for _, id := range c.SubconfigurationIDs() {
		out = append(out, c.subconfigs[id].AllParameters()...)
	}
	return out
}

// Lookup finds a parameter anywhere in the tree by id.
func (c *Configuration) Lookup(id string) (Parameter, bool) {
	if p, ok := c.params[id]; ok {
		return p, true
	}
	for _, sid := range c.SubconfigurationIDs() {
		if p, ok := c.subconfigs[sid].Lookup(id); ok {
			return p, true
		}
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
