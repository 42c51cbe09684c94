package techniques

import (
	"context"
	"fmt"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// Fixed proposes a fixed list of seed candidates once each, in order. A seed
// may name only some parameters; the rest keep their default values.
type Fixed struct {
	name  string
	seeds []engine.Store
	next  int
}

// NewFixed creates a technique proposing seeds in order.
func NewFixed(name string, seeds ...engine.Store) *Fixed {
	if name == "" {
		name = NameFixed
	}
	return &Fixed{name: name, seeds: seeds}
}

// Name returns the technique name.
func (f *Fixed) Name() string { return f.name }

// Remaining returns the number of seeds not proposed yet.
func (f *Fixed) Remaining() int { return len(f.seeds) - f.next }

// Propose returns the next seed merged over the default candidate, or nil
// once every seed was proposed.
func (f *Fixed) Propose(_ context.Context, search *engine.SearchContext) (engine.Store, error) {
	if f.next >= len(f.seeds) {
		return nil, nil
	}
	seed := f.seeds[f.next]
	f.next++

	byName := make(map[string]engine.Parameter, len(search.Parameters))
	for _, p := range search.Parameters {
		byName[p.Name()] = p
	}
	c := search.Default.Clone()
	for name, v := range seed {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("seed %d names unknown parameter %q", f.next-1, name)
		}
		if err := p.Set(c, v); err != nil {
			return nil, fmt.Errorf("seed %d: %w", f.next-1, err)
		}
	}
	return c, nil
}
