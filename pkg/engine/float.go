package engine

import (
	"encoding/json"
	"fmt"
	"math"
)

// FloatParameter is a real constrained to [min, max].
type FloatParameter struct {
	name  string
	class string
	min   float64
	max   float64
	value float64
}

// NewFloatParameter creates a float parameter with an initial value.
func NewFloatParameter(name string, min, max, value float64) (*FloatParameter, error) {
	if math.IsNaN(min) || math.IsNaN(max) || min > max {
		return nil, NewDomainError(fmt.Sprintf("empty range [%g, %g]", min, max), nil).WithParameter(name)
	}
	if math.IsNaN(value) || value < min || value > max {
		return nil, NewDomainError(fmt.Sprintf("value %g outside [%g, %g]", value, min, max), nil).WithParameter(name)
	}
	return &FloatParameter{name: name, class: FloatClassTag, min: min, max: max, value: value}, nil
}

// Name returns the parameter name.
func (p *FloatParameter) Name() string { return p.name }

// Kind returns KindFloat.
func (p *FloatParameter) Kind() Kind { return KindFloat }

// ClassTag returns the external class tag.
func (p *FloatParameter) ClassTag() string { return p.class }

// LegalRange returns the inclusive bounds.
func (p *FloatParameter) LegalRange() (float64, float64) { return p.min, p.max }

// Value returns the cached value.
func (p *FloatParameter) Value() any { return p.value }

// Float returns the store's value as a float64, or the cached value.
func (p *FloatParameter) Float(s Store) float64 {
	if v, ok := s[p.name]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return p.value
}

// Get returns the store's value, or the cached value.
func (p *FloatParameter) Get(s Store) any { return p.Float(s) }

// Set writes v into the store. Values outside the legal range are rejected.
func (p *FloatParameter) Set(s Store, v any) error {
	f, err := p.check(v)
	if err != nil {
		return err
	}
	s[p.name] = f
	return nil
}

// Materialize copies the store's value into the cached value.
func (p *FloatParameter) Materialize(s Store) error {
	v, ok := s[p.name]
	if !ok {
		return nil
	}
	f, err := p.check(v)
	if err != nil {
		return err
	}
	p.value = f
	return nil
}

// Seed writes the cached value into the store.
func (p *FloatParameter) Seed(s Store) { s[p.name] = p.value }

func (p *FloatParameter) check(v any) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, typeError(p.name, "float", v)
	}
	if math.IsNaN(f) || f < p.min || f > p.max {
		return 0, NewDomainError(fmt.Sprintf("value %g outside [%g, %g]", f, p.min, p.max), nil).WithParameter(p.name)
	}
	return f, nil
}

type floatRecord struct {
	Module string  `json:"__module__"`
	Tag    string  `json:"__class__"`
	Class  string  `json:"class"`
	Name   string  `json:"name"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Value  float64 `json:"value"`
}

// MarshalJSON encodes the parameter as a tagged wire record.
func (p *FloatParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(floatRecord{
		Module: moduleParameters,
		Tag:    classFloat,
		Class:  p.class,
		Name:   p.name,
		Min:    p.min,
		Max:    p.max,
		Value:  p.value,
	})
}
