package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a parameter variant.
type Kind string

const (
	// KindInteger is an integer in a closed range.
	KindInteger Kind = "integer"

	// KindFloat is a real in a closed range.
	KindFloat Kind = "float"

	// KindSwitch is a choice from an ordered universe.
	KindSwitch Kind = "switch"

	// KindPermutation is an ordering of a fixed universe.
	KindPermutation Kind = "permutation"

	// KindComposition is a share vector over allocation slots.
	KindComposition Kind = "composition"
)

// Default class tags written to the "class" field of parameter records.
const (
	IntegerClassTag     = "edu.mit.streamjit.impl.common.Configuration$IntParameter"
	FloatClassTag       = "edu.mit.streamjit.impl.common.Configuration$FloatParameter"
	SwitchClassTag      = "edu.mit.streamjit.impl.common.Configuration$SwitchParameter"
	PermutationClassTag = "edu.mit.streamjit.impl.common.Configuration$PermutationParameter"
	CompositionClassTag = "edu.mit.streamjit.impl.common.Configuration$CompositionParameter"
)

// Parameter is one dimension of the search space.
//
// The authoritative value of a candidate lives in a Store. Get and Set read
// and write the store; Value returns the cached value that Materialize copied
// out of the store most recently and that MarshalJSON encodes.
type Parameter interface {
	json.Marshaler

	// Name returns the parameter name, unique within a search.
	Name() string

	// Kind returns the parameter variant.
	Kind() Kind

	// ClassTag returns the external class tag preserved for the harness.
	ClassTag() string

	// Get returns the store's value, or the cached value if the store has none.
	Get(s Store) any

	// Set validates v and writes it into the store.
	Set(s Store, v any) error

	// Value returns the cached value.
	Value() any

	// Materialize copies the store's value into the cached value. A store
	// without an entry for this parameter leaves the cached value in place.
	Materialize(s Store) error

	// Seed writes the cached value into the store.
	Seed(s Store)
}

// SeedStore returns a store holding the cached value of every parameter.
func SeedStore(params []Parameter) Store {
	s := make(Store, len(params))
	for _, p := range params {
		p.Seed(s)
	}
	return s
}

func typeError(name string, want string, got any) *TuneError {
	return NewDomainError(fmt.Sprintf("expected %s value, got %T", want, got), nil).
		WithParameter(name)
}
