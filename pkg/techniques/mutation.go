package techniques

import (
	"context"
	"math"
	"math/rand"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// GreedyMutation mutates one random parameter of the best candidate.
type GreedyMutation struct {
	rng     *rand.Rand
	mutator *engine.CompositionMutator
}

// NewGreedyMutation creates the technique drawing from rng.
func NewGreedyMutation(rng *rand.Rand) *GreedyMutation {
	return &GreedyMutation{rng: rng, mutator: engine.NewCompositionMutator(rng)}
}

// Name returns the technique name.
func (g *GreedyMutation) Name() string { return NameGreedyMutation }

// Propose returns the best candidate with one parameter mutated. The result
// may repeat an evaluated candidate; the session asks again in that case.
func (g *GreedyMutation) Propose(ctx context.Context, search *engine.SearchContext) (engine.Store, error) {
	if len(search.Parameters) == 0 {
		return nil, nil
	}
	c, err := best(ctx, search)
	if err != nil {
		return nil, err
	}
	p := search.Parameters[g.rng.Intn(len(search.Parameters))]
	if err := g.mutate(p, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *GreedyMutation) mutate(p engine.Parameter, c engine.Store) error {
	switch tp := p.(type) {
	case *engine.IntegerParameter:
		lo, hi := tp.LegalRange()
		return tp.Set(c, g.intBetween(lo, hi))
	case *engine.FloatParameter:
		lo, hi := tp.LegalRange()
		return tp.Set(c, lo+g.rng.Float64()*(hi-lo))
	case *engine.SwitchParameter:
		return tp.Set(c, g.rng.Intn(len(tp.Universe())))
	case *engine.PermutationParameter:
		order := tp.Order(c)
		if len(order) < 2 {
			return nil
		}
		i := g.rng.Intn(len(order))
		j := g.rng.Intn(len(order) - 1)
		if j >= i {
			j++
		}
		order[i], order[j] = order[j], order[i]
		return tp.Set(c, order)
	case *engine.CompositionParameter:
		moves := []func() error{func() error {
			g.mutator.ShuffleCores(tp, c)
			return nil
		}}
		if tp.CanAddCore(c) {
			moves = append(moves, func() error { return g.mutator.AddCore(tp, c) })
		}
		if tp.CanRemoveCore(c) {
			moves = append(moves, func() error { return g.mutator.RemoveCore(tp, c) })
		}
		return moves[g.rng.Intn(len(moves))]()
	default:
		return nil
	}
}

// intBetween draws uniformly from [lo, hi]. Spans too wide for Intn are
// drawn as offsets in uint64 arithmetic.
func (g *GreedyMutation) intBetween(lo, hi int) int {
	if span := hi - lo + 1; span > 0 {
		return lo + g.rng.Intn(span)
	}
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return int(g.rng.Uint64())
	}
	return lo + int(g.rng.Uint64()%(span+1))
}
