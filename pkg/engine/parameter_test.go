package engine

import (
	"testing"
)

func TestIntegerParameterSet(t *testing.T) {
	p, err := NewIntegerParameter("multiplier", 1, 64, 8)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"lower bound", 1, false},
		{"upper bound", 64, false},
		{"below range", 0, true},
		{"above range", 65, true},
		{"integral float", float64(12), false},
		{"fractional float", 12.5, true},
		{"wrong type", "12", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Store{}
			err := p.Set(s, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !IsDomain(err) {
					t.Errorf("Expected domain error, got %v", err)
				}
				if _, stored := s["multiplier"]; stored {
					t.Error("Expected rejected value not to be stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNewIntegerParameterRejectsInvalidRange(t *testing.T) {
	if _, err := NewIntegerParameter("x", 5, 1, 3); !IsDomain(err) {
		t.Errorf("Expected domain error for empty range, got %v", err)
	}
	if _, err := NewIntegerParameter("x", 1, 5, 9); !IsDomain(err) {
		t.Errorf("Expected domain error for initial value, got %v", err)
	}
}

func TestIntegerParameterMaterialize(t *testing.T) {
	p, _ := NewIntegerParameter("unroll", 1, 16, 4)

	if err := p.Materialize(Store{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Value() != 4 {
		t.Errorf("Expected cached value 4 for empty store, got %v", p.Value())
	}

	if err := p.Materialize(Store{"unroll": 9}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Value() != 9 {
		t.Errorf("Expected cached value 9, got %v", p.Value())
	}

	if err := p.Materialize(Store{"unroll": 17}); !IsDomain(err) {
		t.Errorf("Expected domain error, got %v", err)
	}
	if p.Value() != 9 {
		t.Errorf("Expected cached value to stay 9, got %v", p.Value())
	}
}

func TestFloatParameter(t *testing.T) {
	p, err := NewFloatParameter("ratio", 0.5, 2.0, 1.0)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}

	lo, hi := p.LegalRange()
	if lo != 0.5 || hi != 2.0 {
		t.Errorf("Expected range [0.5, 2], got [%g, %g]", lo, hi)
	}

	s := Store{}
	if err := p.Set(s, 1.75); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := p.Float(s); got != 1.75 {
		t.Errorf("Expected 1.75, got %g", got)
	}
	if err := p.Set(s, 2.5); !IsDomain(err) {
		t.Errorf("Expected domain error, got %v", err)
	}
	if got := p.Float(s); got != 1.75 {
		t.Errorf("Expected rejected set to leave 1.75, got %g", got)
	}
}

func TestSwitchParameter(t *testing.T) {
	p, err := NewSwitchParameter("scheduler", "java.lang.String", []any{"fifo", "lifo", "random"}, 1)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}

	if p.Value() != "lifo" {
		t.Errorf("Expected initial label lifo, got %v", p.Value())
	}

	s := Store{}
	if err := p.Set(s, 2); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := p.Materialize(s); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Value() != "random" {
		t.Errorf("Expected label random, got %v", p.Value())
	}

	if err := p.Set(s, 3); !IsDomain(err) {
		t.Errorf("Expected domain error for out-of-universe index, got %v", err)
	}
	if _, ok := p.TrueIndex(); ok {
		t.Error("Expected no true index in a string universe")
	}
}

func TestSwitchParameterTrueIndex(t *testing.T) {
	p := NewBooleanSwitch("removeA", false)
	idx, ok := p.TrueIndex()
	if !ok || idx != 1 {
		t.Errorf("Expected true index 1, got %d (found=%v)", idx, ok)
	}

	reversed, err := NewSwitchParameter("fuseB", BooleanUniverseType, []any{true, false}, 1)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	idx, ok = reversed.TrueIndex()
	if !ok || idx != 0 {
		t.Errorf("Expected true index 0, got %d (found=%v)", idx, ok)
	}
}

func TestNewSwitchParameterRejectsDuplicateLabels(t *testing.T) {
	if _, err := NewSwitchParameter("x", "java.lang.Integer", []any{1, 2, 1}, 0); !IsDomain(err) {
		t.Errorf("Expected domain error, got %v", err)
	}
	if _, err := NewSwitchParameter("x", "java.lang.Integer", nil, 0); !IsDomain(err) {
		t.Errorf("Expected domain error for empty universe, got %v", err)
	}
}

func TestPermutationParameterSet(t *testing.T) {
	p, err := NewPermutationParameter("affinity", "java.lang.Integer", []any{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"reordered", []any{3, 1, 0, 2}, false},
		{"ints", []int{2, 3, 0, 1}, false},
		{"decoded floats", []any{float64(1), float64(0), float64(3), float64(2)}, false},
		{"missing element", []any{0, 1, 2, 2}, true},
		{"foreign element", []any{0, 1, 2, 9}, true},
		{"short", []any{0, 1, 2}, true},
		{"not a list", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Set(Store{}, tt.value)
			if tt.wantErr && !IsDomain(err) {
				t.Errorf("Expected domain error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestPermutationParameterMaterialize(t *testing.T) {
	p, _ := NewPermutationParameter("order", "java.lang.String", []any{"a", "b", "c"})
	s := Store{"order": []any{"c", "a", "b"}}
	if err := p.Materialize(s); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got := p.Universe()
	want := []any{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}
}

func TestStoreClone(t *testing.T) {
	s := Store{"shares": []float64{0.5, 0.5}, "order": []any{1, 2}, "n": 3}
	c := s.Clone()
	c["shares"].([]float64)[0] = 1
	c["order"].([]any)[0] = 9

	if s["shares"].([]float64)[0] != 0.5 {
		t.Error("Expected clone to copy composition shares")
	}
	if s["order"].([]any)[0] != 1 {
		t.Error("Expected clone to copy permutation order")
	}
}

func TestStoreKey(t *testing.T) {
	a := Store{"n": 3, "shares": []float64{0.25, 0.75}}
	b := Store{"shares": []any{0.25, 0.75}, "n": float64(3)}
	if a.Key() != b.Key() {
		t.Errorf("Expected equal keys, got %s and %s", a.Key(), b.Key())
	}
	c := Store{"n": 4, "shares": []float64{0.25, 0.75}}
	if a.Key() == c.Key() {
		t.Error("Expected different keys for different values")
	}
}

func TestSeedStore(t *testing.T) {
	i, _ := NewIntegerParameter("i", 0, 10, 7)
	sw := NewBooleanSwitch("flag", true)
	s := SeedStore([]Parameter{i, sw})
	if s["i"] != 7 {
		t.Errorf("Expected i=7, got %v", s["i"])
	}
	if s["flag"] != 1 {
		t.Errorf("Expected flag index 1, got %v", s["flag"])
	}
}
