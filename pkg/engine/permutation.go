package engine

import (
	"encoding/json"
	"fmt"
)

// PermutationParameter is an ordering of a fixed universe. The store holds
// the ordered elements.
type PermutationParameter struct {
	name         string
	class        string
	universeType string
	order        []any
}

// NewPermutationParameter creates a permutation whose initial order is universe.
func NewPermutationParameter(name, universeType string, universe []any) (*PermutationParameter, error) {
	order := make([]any, len(universe))
	for i, e := range universe {
		order[i] = plainValue(e)
	}
	return &PermutationParameter{
		name:         name,
		class:        PermutationClassTag,
		universeType: universeType,
		order:        order,
	}, nil
}

// Name returns the parameter name.
func (p *PermutationParameter) Name() string { return p.name }

// Kind returns KindPermutation.
func (p *PermutationParameter) Kind() Kind { return KindPermutation }

// ClassTag returns the external class tag.
func (p *PermutationParameter) ClassTag() string { return p.class }

// UniverseType returns the element type name. It is not enforced.
func (p *PermutationParameter) UniverseType() string { return p.universeType }

// Universe returns a copy of the cached order.
func (p *PermutationParameter) Universe() []any { return append([]any(nil), p.order...) }

// Value returns a copy of the cached order.
func (p *PermutationParameter) Value() any { return p.Universe() }

// Order returns the store's order, or the cached order.
func (p *PermutationParameter) Order(s Store) []any {
	if v, ok := s[p.name]; ok {
		if order, err := p.check(v); err == nil {
			return order
		}
	}
	return p.Universe()
}

// Get returns the store's order, or the cached order.
func (p *PermutationParameter) Get(s Store) any { return p.Order(s) }

// Set writes an order into the store. v must be a permutation of the universe.
func (p *PermutationParameter) Set(s Store, v any) error {
	order, err := p.check(v)
	if err != nil {
		return err
	}
	s[p.name] = order
	return nil
}

// Materialize copies the store's order into the cached order.
func (p *PermutationParameter) Materialize(s Store) error {
	v, ok := s[p.name]
	if !ok {
		return nil
	}
	order, err := p.check(v)
	if err != nil {
		return err
	}
	p.order = order
	return nil
}

// Seed writes the cached order into the store.
func (p *PermutationParameter) Seed(s Store) { s[p.name] = p.Universe() }

func (p *PermutationParameter) check(v any) ([]any, error) {
	var order []any
	switch tv := v.(type) {
	case []any:
		order = make([]any, len(tv))
		for i, e := range tv {
			order[i] = plainValue(e)
		}
	case []int:
		order = make([]any, len(tv))
		for i, e := range tv {
			order[i] = e
		}
	case []string:
		order = make([]any, len(tv))
		for i, e := range tv {
			order[i] = e
		}
	default:
		return nil, typeError(p.name, "permutation", v)
	}
	if len(order) != len(p.order) {
		return nil, NewDomainError(fmt.Sprintf("permutation has %d elements, universe has %d", len(order), len(p.order)), nil).WithParameter(p.name)
	}
	remaining := make(map[string]int, len(p.order))
	for _, e := range p.order {
		remaining[elementKey(e)]++
	}
	for _, e := range order {
		key := elementKey(e)
		if remaining[key] == 0 {
			return nil, NewDomainError(fmt.Sprintf("element %s is not in the universe", key), nil).WithParameter(p.name)
		}
		remaining[key]--
	}
	return order, nil
}

type permutationRecord struct {
	Module       string `json:"__module__"`
	Tag          string `json:"__class__"`
	Class        string `json:"class"`
	Name         string `json:"name"`
	UniverseType string `json:"universeType"`
	Universe     []any  `json:"universe"`
}

// MarshalJSON encodes the parameter as a tagged wire record. The universe is
// written in the cached order.
func (p *PermutationParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(permutationRecord{
		Module:       moduleParameters,
		Tag:          classPermutation,
		Class:        p.class,
		Name:         p.name,
		UniverseType: p.universeType,
		Universe:     p.order,
	})
}
