// Package policy provides Open Policy Agent (OPA) admission control for
// streamtune candidates.
//
// Before a candidate is sent to the harness, the search adapter asks the
// policy engine whether it may run. Policies are Rego modules with a `deny`
// set; any violation of severity error or critical rejects the candidate,
// which is then recorded as an ERROR trial without launching the harness.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	adapter, err := engine.NewSearchAdapter(cfg, engine.AdapterConfig{
//	    Transport: transport,
//	    Admission: eng,
//	})
//
// # Input Document
//
// Policies see the candidate values and the wire record of every parameter:
//
//	{
//	  "candidate":  {"multiplier": 8, "cores": [0.5, 0.5, 0, 0]},
//	  "parameters": {"multiplier": {"__class__": "sjIntegerParameter", "min": 1, "max": 64, ...}},
//	  "context":    {"operation": "admit", "program": "fmradio", "timestamp": "..."}
//	}
//
// # Built-in Policies
//
//  1. composition-active-slot - Rejects compositions without a positive share
//  2. composition-sparse-share - Warns about slots with under 1% of the work
//
// # Custom Policies
//
//	package streamtune.policies.heap
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.candidate.multiplier > 32
//	    input.candidate.fuseA == 1
//	    violation := {
//	        "message": "large multipliers exhaust the heap when fused",
//	        "parameter": "multiplier",
//	    }
//	}
//
// Rego files default to severity error. JSON policy files carry name,
// description, rego and severity fields.
//
// # Hot Reload
//
// Engine.Watch watches policy paths with fsnotify and swaps the loaded
// policies after a short debounce. Built-in policies are never replaced,
// and a reload with a policy that fails to compile keeps the previous set.
package policy
