package techniques

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// DefaultAffinityParameter is the permutation parameter that orders the
// processors worker threads are pinned to.
const DefaultAffinityParameter = "affinity"

// CrossSocketBeforeHyperthreadingAffinity orders the affinity permutation so
// that threads spread across sockets before cores, and across cores before
// hyperthreads.
type CrossSocketBeforeHyperthreadingAffinity struct {
	parameter string
	order     []int
}

// NewCrossSocketAffinity creates the technique for topo. The preference order
// is computed once here.
func NewCrossSocketAffinity(topo *engine.Topology, parameter string) *CrossSocketBeforeHyperthreadingAffinity {
	if parameter == "" {
		parameter = DefaultAffinityParameter
	}
	return &CrossSocketBeforeHyperthreadingAffinity{parameter: parameter, order: topo.PreferenceOrder()}
}

// Name returns the technique name.
func (a *CrossSocketBeforeHyperthreadingAffinity) Name() string { return NameCrossSocketAffinity }

// Order returns the processor preference order.
func (a *CrossSocketBeforeHyperthreadingAffinity) Order() []int {
	return append([]int(nil), a.order...)
}

// Propose reorders the affinity permutation of the best candidate. Processors
// the permutation does not contain are skipped; elements that are not
// processors keep their relative order after the preferred ones.
func (a *CrossSocketBeforeHyperthreadingAffinity) Propose(ctx context.Context, search *engine.SearchContext) (engine.Store, error) {
	var perm *engine.PermutationParameter
	for _, p := range search.Parameters {
		if pp, ok := p.(*engine.PermutationParameter); ok && pp.Name() == a.parameter {
			perm = pp
			break
		}
	}
	if perm == nil {
		return nil, nil
	}

	return firstFresh(ctx, search, func(c engine.Store) (engine.Store, error) {
		current := perm.Order(c)
		used := make([]bool, len(current))
		positions := make(map[int][]int)
		for i, e := range current {
			if n, ok := asInt(e); ok {
				positions[n] = append(positions[n], i)
			}
		}

		next := make([]any, 0, len(current))
		for _, proc := range a.order {
			for _, i := range positions[proc] {
				if !used[i] {
					used[i] = true
					next = append(next, current[i])
				}
			}
		}
		for i, e := range current {
			if !used[i] {
				next = append(next, e)
			}
		}
		if err := perm.Set(c, next); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(string(n))
		return i, err == nil
	default:
		return 0, false
	}
}
