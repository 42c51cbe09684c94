// Package techniques provides the domain-specific search techniques of
// streamtune and the registry that builds them by name.
package techniques

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// firstFresh applies transform to each ranked candidate, best first, and
// returns the first result that was not evaluated yet. With an empty history
// the default candidate is transformed instead.
func firstFresh(ctx context.Context, search *engine.SearchContext, transform func(engine.Store) (engine.Store, error)) (engine.Store, error) {
	ranked, err := search.History.Ranked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rank history: %w", err)
	}
	if len(ranked) == 0 && search.Default != nil {
		ranked = []engine.Store{search.Default}
	}
	for _, base := range ranked {
		candidate, err := transform(base.Clone())
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			continue
		}
		dup, err := search.History.Has(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to check history: %w", err)
		}
		if !dup {
			return candidate, nil
		}
	}
	return nil, nil
}

// best returns the fastest evaluated candidate, or the default one.
func best(ctx context.Context, search *engine.SearchContext) (engine.Store, error) {
	ranked, err := search.History.Ranked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rank history: %w", err)
	}
	if len(ranked) > 0 {
		return ranked[0].Clone(), nil
	}
	return search.Default.Clone(), nil
}

// ForceTrue forces every boolean switch whose name starts with a prefix to
// true, starting from the best evaluated candidate.
type ForceTrue struct {
	name   string
	prefix string
}

// NewForceTrue creates a technique forcing switches named prefix* to true.
func NewForceTrue(prefix string) *ForceTrue {
	return &ForceTrue{name: "force-true:" + prefix, prefix: prefix}
}

// NewForceRemove forces every remove* switch to true.
func NewForceRemove() *ForceTrue { return &ForceTrue{name: NameForceRemove, prefix: "remove"} }

// NewForceFuse forces every fuse* switch to true.
func NewForceFuse() *ForceTrue { return &ForceTrue{name: NameForceFuse, prefix: "fuse"} }

// NewForceUnbox forces every unbox* switch to true.
func NewForceUnbox() *ForceTrue { return &ForceTrue{name: NameForceUnbox, prefix: "unbox"} }

// Name returns the technique name.
func (f *ForceTrue) Name() string { return f.name }

// Prefix returns the switch name prefix.
func (f *ForceTrue) Prefix() string { return f.prefix }

// Propose returns the best candidate with every matching switch forced true
// that has not been evaluated yet.
func (f *ForceTrue) Propose(ctx context.Context, search *engine.SearchContext) (engine.Store, error) {
	return firstFresh(ctx, search, func(c engine.Store) (engine.Store, error) {
		for _, p := range search.Parameters {
			sw, ok := p.(*engine.SwitchParameter)
			if !ok || !strings.HasPrefix(sw.Name(), f.prefix) {
				continue
			}
			idx, ok := sw.TrueIndex()
			if !ok {
				continue
			}
			if err := sw.Set(c, idx); err != nil {
				return nil, err
			}
		}
		return c, nil
	})
}

// ForceEqualDivision divides every composition equally, starting from the
// best evaluated candidate.
type ForceEqualDivision struct{}

// NewForceEqualDivision creates the technique.
func NewForceEqualDivision() *ForceEqualDivision { return &ForceEqualDivision{} }

// Name returns the technique name.
func (f *ForceEqualDivision) Name() string { return NameForceEqualDivision }

// Propose returns the best candidate with equally divided compositions that
// has not been evaluated yet.
func (f *ForceEqualDivision) Propose(ctx context.Context, search *engine.SearchContext) (engine.Store, error) {
	return firstFresh(ctx, search, func(c engine.Store) (engine.Store, error) {
		for _, p := range search.Parameters {
			if comp, ok := p.(*engine.CompositionParameter); ok {
				comp.EqualDivision(c)
			}
		}
		return c, nil
	})
}
