package steps

import (
	"testing"

	"github.com/skill-forge/forge/internal/types"
)

func TestDefaultTableValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
}

func TestValidateRejectsBadTables(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"empty", Table{}},
		{"agent without prompt", Table{
			{Kind: types.StepKindAgent, Name: "x", OutputPaths: []string{"o"}},
		}},
		{"gate on non-human step", Table{
			{Kind: types.StepKindAgent, Name: "a", PromptPath: "p"},
			{Kind: types.StepKindAgent, Name: "b", PromptPath: "p", Gate: &GateDef{QAPath: "q", DecisionStep: 2}},
			{Kind: types.StepKindPackage, Name: "c"},
		}},
		{"gate jumping backward", Table{
			{Kind: types.StepKindAgent, Name: "a", PromptPath: "p"},
			{Kind: types.StepKindHuman, Name: "b", Gate: &GateDef{QAPath: "q", DecisionStep: 0}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.table.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStepsMaterialization(t *testing.T) {
	table := Default()
	steps := table.Steps()
	if len(steps) != len(table) {
		t.Fatalf("got %d steps, want %d", len(steps), len(table))
	}
	for i, s := range steps {
		if s.Index != i {
			t.Errorf("step %d has index %d", i, s.Index)
		}
		if s.Status != types.StepStatusPending {
			t.Errorf("step %d starts as %s, want pending", i, s.Status)
		}
	}

	// Mutating a materialized step's outputs must not leak into the table.
	steps[0].OutputPaths[0] = "mutated"
	if table[0].OutputPaths[0] == "mutated" {
		t.Error("materialized steps share OutputPaths backing array with the table")
	}
}
