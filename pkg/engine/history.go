package engine

import (
	"context"
	"sort"
	"sync"
)

// MemoryHistory is an in-process History.
type MemoryHistory struct {
	mu     sync.RWMutex
	trials []*Trial
	keys   map[string]struct{}
}

// NewMemoryHistory creates an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{keys: make(map[string]struct{})}
}

// Record stores a finished trial.
func (h *MemoryHistory) Record(_ context.Context, trial *Trial) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trials = append(h.trials, trial)
	h.keys[trial.Candidate.Key()] = struct{}{}
	return nil
}

// Ranked returns the candidates with an OK outcome, fastest first. Ties keep
// evaluation order.
func (h *MemoryHistory) Ranked(_ context.Context) ([]Store, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ok []*Trial
	for _, t := range h.trials {
		if t.Result != nil && t.Result.Outcome == OutcomeOK {
			ok = append(ok, t)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Result.Time < ok[j].Result.Time })
	out := make([]Store, len(ok))
	for i, t := range ok {
		out[i] = t.Candidate.Clone()
	}
	return out, nil
}

// Has reports whether an identical candidate was already recorded.
func (h *MemoryHistory) Has(_ context.Context, candidate Store) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.keys[candidate.Key()]
	return ok, nil
}

// Trials returns the recorded trials in evaluation order.
func (h *MemoryHistory) Trials() []*Trial {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Trial(nil), h.trials...)
}
