package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		compositionActiveSlotPolicy(),
		compositionSparseSharePolicy(),
	}
}

// compositionActiveSlotPolicy rejects compositions that leave no slot with
// work or carry negative shares.
func compositionActiveSlotPolicy() Policy {
	return Policy{
		Name:        "composition-active-slot",
		Description: "Rejects compositions without a positive share or with negative shares",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"composition"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package streamtune.policies.composition

import rego.v1

compositions[name] := shares if {
	some name, param in input.parameters
	param.__class__ == "sjCompositionParameter"
	shares := input.candidate[name]
}

deny contains violation if {
	some name, shares in compositions
	count([s | some s in shares; s > 0]) == 0
	violation := {
		"message": sprintf("composition %s has no active slot", [name]),
		"parameter": name,
	}
}

deny contains violation if {
	some name, shares in compositions
	some i, s in shares
	s < 0
	violation := {
		"message": sprintf("composition %s has a negative share at slot %d", [name, i]),
		"parameter": name,
	}
}
`,
	}
}

// compositionSparseSharePolicy warns about active slots that receive almost
// no work.
func compositionSparseSharePolicy() Policy {
	return Policy{
		Name:        "composition-sparse-share",
		Description: "Warns about active composition slots with less than one percent of the work",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"composition"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package streamtune.policies.sparse

import rego.v1

warn contains violation if {
	some name, param in input.parameters
	param.__class__ == "sjCompositionParameter"
	shares := input.candidate[name]
	total := sum(shares)
	total > 0
	some i, s in shares
	s > 0
	s / total < 0.01
	violation := {
		"message": sprintf("composition %s slot %d receives less than 1%% of the work", [name, i]),
		"parameter": name,
	}
}
`,
	}
}
