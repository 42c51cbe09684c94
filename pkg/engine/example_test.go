package engine_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// harnessFunc adapts a function to engine.Transport.
type harnessFunc func(ctx context.Context, req *engine.Request) (*engine.Response, error)

func (f harnessFunc) Deliver(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	return f(ctx, req)
}

// multiplierSweep proposes the listed multiplier values in order.
type multiplierSweep struct {
	values []int
	next   int
}

func (m *multiplierSweep) Name() string { return "sweep" }

func (m *multiplierSweep) Propose(_ context.Context, search *engine.SearchContext) (engine.Store, error) {
	if m.next >= len(m.values) {
		return nil, nil
	}
	c := search.Default.Clone()
	c["multiplier"] = m.values[m.next]
	m.next++
	return c, nil
}

// Example_session runs a small session against an in-process harness whose
// running time is smallest at a multiplier of 16.
func Example_session() {
	cfg := engine.NewConfiguration()
	multiplier, _ := engine.NewIntegerParameter("multiplier", 1, 64, 1)
	_ = cfg.AddParameter(multiplier)

	harness := harnessFunc(func(_ context.Context, req *engine.Request) (*engine.Response, error) {
		if req.Purpose == engine.PurposeGrouping {
			return &engine.Response{}, nil
		}
		doc, err := engine.Decode(req.Document)
		if err != nil {
			return &engine.Response{ExitCode: 1, Stderr: err.Error()}, nil
		}
		p, _ := doc.Lookup("multiplier")
		m := p.Value().(int)
		distance := m - 16
		if distance < 0 {
			distance = -distance
		}
		return &engine.Response{Stdout: fmt.Sprintf("%d.0\n", distance+1)}, nil
	})

	adapter, err := engine.NewSearchAdapter(cfg, engine.AdapterConfig{
		Transport: harness,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		panic(err)
	}

	session, err := engine.NewSession(adapter, engine.SessionConfig{
		Trials:     10,
		Techniques: []engine.Technique{&multiplierSweep{values: []int{4, 16, 32, 16}}},
		Logger:     zerolog.Nop(),
		OnTrial: func(t *engine.Trial) {
			fmt.Printf("%-7s multiplier=%-2v %s %g\n", t.Technique, t.Candidate["multiplier"], t.Result.Outcome, t.Result.Time)
		},
	})
	if err != nil {
		panic(err)
	}

	summary, err := session.Run(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("trials=%d exhausted=%v best=%g\n", summary.Trials, summary.Exhausted, summary.Best.Result.Time)

	// Output:
	// default multiplier=1  OK 16
	// sweep   multiplier=4  OK 13
	// sweep   multiplier=16 OK 1
	// sweep   multiplier=32 OK 17
	// trials=4 exhausted=true best=1
}
