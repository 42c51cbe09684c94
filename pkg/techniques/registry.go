package techniques

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// Technique names understood by the default registry.
const (
	NameForceRemove         = "force-remove"
	NameForceFuse           = "force-fuse"
	NameForceUnbox          = "force-unbox"
	NameForceEqualDivision  = "force-equal-division"
	NameCrossSocketAffinity = "cross-socket-affinity"
	NameGreedyMutation      = "greedy-mutation"
	NameFixed               = "fixed"
)

// forceTruePrefix selects a ForceTrue technique for an arbitrary prefix, as in
// "force-true:split".
const forceTruePrefix = "force-true:"

// Options carries what factories need to build techniques.
type Options struct {
	// Rand is the generator for randomized techniques. A time-seeded one is
	// used when nil.
	Rand *rand.Rand

	// Topology is the processor topology. It is read from the machine when
	// nil and a technique needs it.
	Topology *engine.Topology

	// AffinityParameter names the affinity permutation parameter.
	AffinityParameter string

	// Seeds are the candidates of the fixed technique.
	Seeds []engine.Store
}

// Factory builds a technique.
type Factory func(opts Options) (engine.Technique, error)

// Registry maps technique names to factories. Nothing registers itself; the
// caller decides which techniques exist.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in technique.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(name string, f Factory) {
		if err := r.Register(name, f); err != nil {
			panic(err)
		}
	}
	must(NameForceRemove, func(Options) (engine.Technique, error) { return NewForceRemove(), nil })
	must(NameForceFuse, func(Options) (engine.Technique, error) { return NewForceFuse(), nil })
	must(NameForceUnbox, func(Options) (engine.Technique, error) { return NewForceUnbox(), nil })
	must(NameForceEqualDivision, func(Options) (engine.Technique, error) { return NewForceEqualDivision(), nil })
	must(NameGreedyMutation, func(opts Options) (engine.Technique, error) { return NewGreedyMutation(opts.Rand), nil })
	must(NameFixed, func(opts Options) (engine.Technique, error) { return NewFixed(NameFixed, opts.Seeds...), nil })
	must(NameCrossSocketAffinity, func(opts Options) (engine.Technique, error) {
		topo := opts.Topology
		if topo == nil {
			var err error
			if topo, err = engine.ReadTopology(); err != nil {
				return nil, err
			}
		}
		return NewCrossSocketAffinity(topo, opts.AffinityParameter), nil
	})
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return fmt.Errorf("technique name is required")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("technique %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the named techniques in order. A name of the form
// "force-true:<prefix>" builds a ForceTrue technique for that prefix.
func (r *Registry) Build(names []string, opts Options) ([]engine.Technique, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.Technique, 0, len(names))
	for _, name := range names {
		if prefix, ok := strings.CutPrefix(name, forceTruePrefix); ok && prefix != "" {
			out = append(out, NewForceTrue(prefix))
			continue
		}
		f, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown technique %q", name)
		}
		t, err := f(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build technique %q: %w", name, err)
		}
		out = append(out, t)
	}
	return out, nil
}
