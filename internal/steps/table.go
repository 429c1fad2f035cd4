// Package steps defines the static step table for the skill pipeline.
package steps

import (
	"fmt"

	"github.com/skill-forge/forge/internal/types"
)

// GateDef configures the checklist gate that runs after a human step.
type GateDef struct {
	// QAPath is the structured question/answer artifact the evaluator reads.
	QAPath string
	// DecisionStep is the step a "skip" decision jumps forward to. Steps
	// between the gated step and DecisionStep are marked completed on skip.
	DecisionStep int
}

// Def is the static definition of one pipeline step. Pure data.
type Def struct {
	Kind        types.StepKind
	Name        string
	PromptPath  string   // Prompt artifact for agent-backed steps
	OutputPaths []string // Artifacts that must exist for completion
	Gate        *GateDef // Present only on gated human steps
	// ScopePath names an optional artifact the step may write ruling later
	// steps out of scope. Disabled steps are never auto-advanced into.
	ScopePath string
}

// Table is the ordered step table for one pipeline.
type Table []Def

// Default is the standard skill-building pipeline.
func Default() Table {
	return Table{
		{
			Kind:        types.StepKindAgent,
			Name:        "explore",
			PromptPath:  "prompts/explore.md",
			OutputPaths: []string{"exploration.md", "checklist.yaml"},
			ScopePath:   "scope.yaml",
		},
		{
			Kind:        types.StepKindHuman,
			Name:        "review-checklist",
			OutputPaths: []string{"checklist.yaml"},
			Gate:        &GateDef{QAPath: "checklist.yaml", DecisionStep: 3},
		},
		{
			Kind:        types.StepKindReasoning,
			Name:        "research",
			PromptPath:  "prompts/research.md",
			OutputPaths: []string{"research.md"},
		},
		{
			Kind:        types.StepKindAgent,
			Name:        "draft",
			PromptPath:  "prompts/draft.md",
			OutputPaths: []string{"SKILL.md"},
		},
		{
			Kind:        types.StepKindHuman,
			Name:        "review-draft",
			OutputPaths: []string{"SKILL.md"},
		},
		{
			Kind:        types.StepKindPackage,
			Name:        "package",
			OutputPaths: []string{"dist/manifest.yaml"},
		},
	}
}

// Validate checks the table is well-formed.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("step table is empty")
	}
	for i, d := range t {
		if !d.Kind.Valid() {
			return fmt.Errorf("step %d: invalid kind %q", i, d.Kind)
		}
		if d.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if d.Kind.IsAgentBacked() && d.PromptPath == "" {
			return fmt.Errorf("step %d (%s): agent-backed step needs a prompt path", i, d.Name)
		}
		if d.Gate != nil {
			if d.Kind != types.StepKindHuman {
				return fmt.Errorf("step %d (%s): only human steps can be gated", i, d.Name)
			}
			if d.Gate.DecisionStep <= i || d.Gate.DecisionStep >= len(t) {
				return fmt.Errorf("step %d (%s): gate decision step %d out of range", i, d.Name, d.Gate.DecisionStep)
			}
		}
	}
	return nil
}

// Steps materializes the table into fresh pending workflow steps.
func (t Table) Steps() []*types.Step {
	out := make([]*types.Step, len(t))
	for i, d := range t {
		out[i] = &types.Step{
			Index:       i,
			Kind:        d.Kind,
			Name:        d.Name,
			Status:      types.StepStatusPending,
			OutputPaths: append([]string(nil), d.OutputPaths...),
		}
	}
	return out
}
