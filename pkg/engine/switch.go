package engine

import (
	"encoding/json"
	"fmt"
)

// BooleanUniverseType is the universe type of a two-way true/false switch.
const BooleanUniverseType = "java.lang.Boolean"

// SwitchParameter selects one label from an ordered universe. The store holds
// the index of the selected label.
type SwitchParameter struct {
	name         string
	class        string
	universeType string
	universe     []any
	index        int
}

// NewSwitchParameter creates a switch over universe with the given selected index.
func NewSwitchParameter(name, universeType string, universe []any, index int) (*SwitchParameter, error) {
	if len(universe) == 0 {
		return nil, NewDomainError("empty universe", nil).WithParameter(name)
	}
	seen := make(map[string]struct{}, len(universe))
	labels := make([]any, len(universe))
	for i, label := range universe {
		key := elementKey(label)
		if _, dup := seen[key]; dup {
			return nil, NewDomainError(fmt.Sprintf("duplicate universe label %s", key), nil).WithParameter(name)
		}
		seen[key] = struct{}{}
		labels[i] = plainValue(label)
	}
	if index < 0 || index >= len(labels) {
		return nil, NewDomainError(fmt.Sprintf("index %d outside universe of %d labels", index, len(labels)), nil).WithParameter(name)
	}
	return &SwitchParameter{
		name:         name,
		class:        SwitchClassTag,
		universeType: universeType,
		universe:     labels,
		index:        index,
	}, nil
}

// NewBooleanSwitch creates a switch over [false, true].
func NewBooleanSwitch(name string, value bool) *SwitchParameter {
	index := 0
	if value {
		index = 1
	}
	return &SwitchParameter{
		name:         name,
		class:        SwitchClassTag,
		universeType: BooleanUniverseType,
		universe:     []any{false, true},
		index:        index,
	}
}

// Name returns the parameter name.
func (p *SwitchParameter) Name() string { return p.name }

// Kind returns KindSwitch.
func (p *SwitchParameter) Kind() Kind { return KindSwitch }

// ClassTag returns the external class tag.
func (p *SwitchParameter) ClassTag() string { return p.class }

// UniverseType returns the universe element type name. It is not enforced.
func (p *SwitchParameter) UniverseType() string { return p.universeType }

// Universe returns a copy of the label universe.
func (p *SwitchParameter) Universe() []any { return append([]any(nil), p.universe...) }

// TrueIndex returns the index of the label true, if the universe has one.
func (p *SwitchParameter) TrueIndex() (int, bool) {
	for i, label := range p.universe {
		if b, ok := label.(bool); ok && b {
			return i, true
		}
	}
	return 0, false
}

// Value returns the cached selected label.
func (p *SwitchParameter) Value() any { return p.universe[p.index] }

// Index returns the store's selected index, or the cached index.
func (p *SwitchParameter) Index(s Store) int {
	if v, ok := s[p.name]; ok {
		if n, ok := toInt(v); ok && n >= 0 && n < len(p.universe) {
			return n
		}
	}
	return p.index
}

// Label returns the label selected in the store.
func (p *SwitchParameter) Label(s Store) any { return p.universe[p.Index(s)] }

// Get returns the store's selected index, or the cached index.
func (p *SwitchParameter) Get(s Store) any { return p.Index(s) }

// Set writes an index into the store.
func (p *SwitchParameter) Set(s Store, v any) error {
	n, err := p.check(v)
	if err != nil {
		return err
	}
	s[p.name] = n
	return nil
}

// Materialize copies the store's index into the cached index.
func (p *SwitchParameter) Materialize(s Store) error {
	v, ok := s[p.name]
	if !ok {
		return nil
	}
	n, err := p.check(v)
	if err != nil {
		return err
	}
	p.index = n
	return nil
}

// Seed writes the cached index into the store.
func (p *SwitchParameter) Seed(s Store) { s[p.name] = p.index }

func (p *SwitchParameter) check(v any) (int, error) {
	n, ok := toInt(v)
	if !ok {
		return 0, typeError(p.name, "switch index", v)
	}
	if n < 0 || n >= len(p.universe) {
		return 0, NewDomainError(fmt.Sprintf("index %d outside universe of %d labels", n, len(p.universe)), nil).WithParameter(p.name)
	}
	return n, nil
}

type switchRecord struct {
	Module       string `json:"__module__"`
	Tag          string `json:"__class__"`
	Class        string `json:"class"`
	Name         string `json:"name"`
	UniverseType string `json:"universeType"`
	Universe     []any  `json:"universe"`
	Value        int    `json:"value"`
}

// MarshalJSON encodes the parameter as a tagged wire record.
func (p *SwitchParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(switchRecord{
		Module:       moduleParameters,
		Tag:          classSwitch,
		Class:        p.class,
		Name:         p.name,
		UniverseType: p.universeType,
		Universe:     p.universe,
		Value:        p.index,
	})
}
