package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// compositionTolerance bounds the accepted deviation of a share vector's sum
// from one when a composition is constructed or decoded.
const compositionTolerance = 1e-5

// CompositionParameter is a fixed-length vector of non-negative shares.
// A zero share marks an inactive slot. After Normalize the shares sum to one.
type CompositionParameter struct {
	name   string
	class  string
	values []float64
}

// NewCompositionParameter creates a composition with count equal shares.
func NewCompositionParameter(name string, count int) (*CompositionParameter, error) {
	if count <= 0 {
		return nil, NewDomainError(fmt.Sprintf("composition needs at least one slot, got %d", count), nil).WithParameter(name)
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = 1 / float64(count)
	}
	return &CompositionParameter{name: name, class: CompositionClassTag, values: values}, nil
}

// NewCompositionParameterWithValues creates a composition from explicit shares.
// The shares must be non-negative and sum to one.
func NewCompositionParameterWithValues(name string, values []float64) (*CompositionParameter, error) {
	if len(values) == 0 {
		return nil, NewDomainError("composition needs at least one slot", nil).WithParameter(name)
	}
	p := &CompositionParameter{name: name, class: CompositionClassTag, values: make([]float64, len(values))}
	checked, err := p.check(values)
	if err != nil {
		return nil, err
	}
	if sum := sumOf(checked); math.Abs(sum-1) > compositionTolerance {
		return nil, NewDomainError(fmt.Sprintf("shares sum to %g, not 1", sum), nil).WithParameter(name)
	}
	p.values = checked
	return p, nil
}

// Name returns the parameter name.
func (p *CompositionParameter) Name() string { return p.name }

// Kind returns KindComposition.
func (p *CompositionParameter) Kind() Kind { return KindComposition }

// ClassTag returns the external class tag.
func (p *CompositionParameter) ClassTag() string { return p.class }

// Count returns the number of slots.
func (p *CompositionParameter) Count() int { return len(p.values) }

// Value returns a copy of the cached shares.
func (p *CompositionParameter) Value() any { return append([]float64(nil), p.values...) }

// Shares returns the store's shares, or the cached shares.
func (p *CompositionParameter) Shares(s Store) []float64 {
	if v, ok := s[p.name]; ok {
		if values, err := p.check(v); err == nil {
			return values
		}
	}
	return append([]float64(nil), p.values...)
}

// Get returns the store's shares, or the cached shares.
func (p *CompositionParameter) Get(s Store) any { return p.Shares(s) }

// Set writes shares into the store. The vector must have Count entries, each
// in [0, 1]; it does not have to be normalized.
func (p *CompositionParameter) Set(s Store, v any) error {
	values, err := p.check(v)
	if err != nil {
		return err
	}
	s[p.name] = values
	return nil
}

// Materialize copies the store's shares into the cached shares, rescaled to
// sum to one. A store vector with no active slot is rejected.
func (p *CompositionParameter) Materialize(s Store) error {
	v, ok := s[p.name]
	if !ok {
		return nil
	}
	values, err := p.check(v)
	if err != nil {
		return err
	}
	sum := sumOf(values)
	if sum == 0 {
		return NewDomainError("composition has no active slot", nil).WithParameter(p.name)
	}
	if sum != 1 {
		for i := range values {
			values[i] /= sum
		}
	}
	p.values = values
	return nil
}

// Seed writes the cached shares into the store.
func (p *CompositionParameter) Seed(s Store) { s[p.name] = append([]float64(nil), p.values...) }

// Normalize rescales the store's shares to sum to one. It does nothing when
// they already do or when every share is zero.
func (p *CompositionParameter) Normalize(s Store) {
	values := p.Shares(s)
	sum := sumOf(values)
	if sum == 0 || sum == 1 {
		return
	}
	for i := range values {
		values[i] /= sum
	}
	s[p.name] = values
}

// EqualDivision sets every share in the store to 1/Count.
func (p *CompositionParameter) EqualDivision(s Store) {
	values := make([]float64, len(p.values))
	for i := range values {
		values[i] = 1 / float64(len(values))
	}
	s[p.name] = values
}

// Zeroes returns the indices of inactive slots in the store.
func (p *CompositionParameter) Zeroes(s Store) []int {
	var out []int
	for i, v := range p.Shares(s) {
		if v == 0 {
			out = append(out, i)
		}
	}
	return out
}

// NonZeroes returns the indices of active slots in the store.
func (p *CompositionParameter) NonZeroes(s Store) []int {
	var out []int
	for i, v := range p.Shares(s) {
		if v != 0 {
			out = append(out, i)
		}
	}
	return out
}

// CanAddCore reports whether the store has an inactive slot to activate.
func (p *CompositionParameter) CanAddCore(s Store) bool { return len(p.Zeroes(s)) > 0 }

// CanRemoveCore reports whether the store has at least two active slots.
func (p *CompositionParameter) CanRemoveCore(s Store) bool { return len(p.NonZeroes(s)) >= 2 }

func (p *CompositionParameter) check(v any) ([]float64, error) {
	values, ok := toFloatSlice(v)
	if !ok {
		return nil, typeError(p.name, "composition", v)
	}
	if len(values) != len(p.values) {
		return nil, NewDomainError(fmt.Sprintf("composition has %d slots, got %d values", len(p.values), len(values)), nil).WithParameter(p.name)
	}
	for i, f := range values {
		if math.IsNaN(f) || f < 0 || f > 1 {
			return nil, NewDomainError(fmt.Sprintf("share %g at slot %d outside [0, 1]", f, i), nil).WithParameter(p.name)
		}
	}
	return values, nil
}

type compositionRecord struct {
	Module string    `json:"__module__"`
	Tag    string    `json:"__class__"`
	Class  string    `json:"class"`
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// MarshalJSON encodes the parameter as a tagged wire record.
func (p *CompositionParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(compositionRecord{
		Module: moduleParameters,
		Tag:    classComposition,
		Class:  p.class,
		Name:   p.name,
		Values: p.values,
	})
}

func sumOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

// CompositionMutator applies the randomized structural moves of a
// composition. All randomness comes from the injected generator.
type CompositionMutator struct {
	rng *rand.Rand
}

// NewCompositionMutator creates a mutator drawing from rng.
func NewCompositionMutator(rng *rand.Rand) *CompositionMutator {
	return &CompositionMutator{rng: rng}
}

// Normalize rescales the store's shares to sum to one.
func (m *CompositionMutator) Normalize(p *CompositionParameter, s Store) { p.Normalize(s) }

// EqualDivision sets every share in the store to 1/Count.
func (m *CompositionMutator) EqualDivision(p *CompositionParameter, s Store) { p.EqualDivision(s) }

// ShuffleCores randomly permutes the store's shares across slots.
func (m *CompositionMutator) ShuffleCores(p *CompositionParameter, s Store) {
	values := p.Shares(s)
	m.rng.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
	s[p.name] = values
}

// AddCore activates a random inactive slot with share 1/(k+1), where k is the
// number of active slots, and scales the other active shares by 1-1/(k+1).
func (m *CompositionMutator) AddCore(p *CompositionParameter, s Store) error {
	zeroes := p.Zeroes(s)
	if len(zeroes) == 0 {
		return NewStructuralMoveUnavailableError("addCore needs an inactive slot", nil).WithParameter(p.name)
	}
	p.Normalize(s)
	values := p.Shares(s)
	k := len(p.NonZeroes(s))
	share := 1 / float64(k+1)
	for i := range values {
		values[i] *= 1 - share
	}
	values[zeroes[m.rng.Intn(len(zeroes))]] = share
	s[p.name] = values
	return nil
}

// RemoveCore deactivates a random active slot and spreads its share evenly
// over the remaining active slots.
func (m *CompositionMutator) RemoveCore(p *CompositionParameter, s Store) error {
	nonZeroes := p.NonZeroes(s)
	if len(nonZeroes) < 2 {
		return NewStructuralMoveUnavailableError("removeCore needs at least two active slots", nil).WithParameter(p.name)
	}
	p.Normalize(s)
	values := p.Shares(s)
	victim := nonZeroes[m.rng.Intn(len(nonZeroes))]
	spill := values[victim] / float64(len(nonZeroes)-1)
	values[victim] = 0
	for _, i := range nonZeroes {
		if i != victim {
			values[i] += spill
		}
	}
	s[p.name] = values
	return nil
}
