package engine

import (
	"encoding/json"
	"fmt"
)

// IntegerParameter is an integer constrained to [min, max].
type IntegerParameter struct {
	name  string
	class string
	min   int
	max   int
	value int
}

// NewIntegerParameter creates an integer parameter with an initial value.
func NewIntegerParameter(name string, min, max, value int) (*IntegerParameter, error) {
	if min > max {
		return nil, NewDomainError(fmt.Sprintf("empty range [%d, %d]", min, max), nil).WithParameter(name)
	}
	if value < min || value > max {
		return nil, NewDomainError(fmt.Sprintf("value %d outside [%d, %d]", value, min, max), nil).WithParameter(name)
	}
	return &IntegerParameter{name: name, class: IntegerClassTag, min: min, max: max, value: value}, nil
}

// Name returns the parameter name.
func (p *IntegerParameter) Name() string { return p.name }

// Kind returns KindInteger.
func (p *IntegerParameter) Kind() Kind { return KindInteger }

// ClassTag returns the external class tag.
func (p *IntegerParameter) ClassTag() string { return p.class }

// LegalRange returns the inclusive bounds.
func (p *IntegerParameter) LegalRange() (int, int) { return p.min, p.max }

// Value returns the cached value.
func (p *IntegerParameter) Value() any { return p.value }

// Int returns the store's value as an int, or the cached value.
func (p *IntegerParameter) Int(s Store) int {
	if v, ok := s[p.name]; ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return p.value
}

// Get returns the store's value, or the cached value.
func (p *IntegerParameter) Get(s Store) any { return p.Int(s) }

// Set writes v into the store. Values outside the legal range are rejected.
func (p *IntegerParameter) Set(s Store, v any) error {
	n, err := p.check(v)
	if err != nil {
		return err
	}
	s[p.name] = n
	return nil
}

// Materialize copies the store's value into the cached value.
func (p *IntegerParameter) Materialize(s Store) error {
	v, ok := s[p.name]
	if !ok {
		return nil
	}
	n, err := p.check(v)
	if err != nil {
		return err
	}
	p.value = n
	return nil
}

// Seed writes the cached value into the store.
func (p *IntegerParameter) Seed(s Store) { s[p.name] = p.value }

func (p *IntegerParameter) check(v any) (int, error) {
	n, ok := toInt(v)
	if !ok {
		return 0, typeError(p.name, "integer", v)
	}
	if n < p.min || n > p.max {
		return 0, NewDomainError(fmt.Sprintf("value %d outside [%d, %d]", n, p.min, p.max), nil).WithParameter(p.name)
	}
	return n, nil
}

type integerRecord struct {
	Module string `json:"__module__"`
	Tag    string `json:"__class__"`
	Class  string `json:"class"`
	Name   string `json:"name"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
	Value  int    `json:"value"`
}

// MarshalJSON encodes the parameter as a tagged wire record.
func (p *IntegerParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(integerRecord{
		Module: moduleParameters,
		Tag:    classInteger,
		Class:  p.class,
		Name:   p.name,
		Min:    p.min,
		Max:    p.max,
		Value:  p.value,
	})
}
