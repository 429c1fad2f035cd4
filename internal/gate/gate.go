// Package gate implements the checklist sufficiency gate: a fast evaluator
// run over a human-answered Q&A artifact that decides whether the answers
// are good enough to advance, with graded remediation paths. A fully
// automated gate would either over-block or under-block; the gate only
// recommends, the human stays in control.
package gate

import (
	"fmt"

	"gopkg.in/yaml.v3"

	forgeerr "github.com/skill-forge/forge/internal/errors"
)

// Verdict is the gate's overall judgment.
type Verdict string

const (
	VerdictSufficient   Verdict = "sufficient"
	VerdictMixed        Verdict = "mixed"
	VerdictInsufficient Verdict = "insufficient"
)

// Valid returns true if this is a recognized verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSufficient, VerdictMixed, VerdictInsufficient:
		return true
	}
	return false
}

// QuestionVerdict is the per-question judgment.
type QuestionVerdict string

const (
	QuestionClear           QuestionVerdict = "clear"
	QuestionNeedsRefinement QuestionVerdict = "needs_refinement"
	QuestionNotAnswered     QuestionVerdict = "not_answered"
	QuestionVague           QuestionVerdict = "vague"
)

// Valid returns true if this is a recognized question verdict.
func (v QuestionVerdict) Valid() bool {
	switch v {
	case QuestionClear, QuestionNeedsRefinement, QuestionNotAnswered, QuestionVague:
		return true
	}
	return false
}

// QuestionResult is the evaluator's judgment of one answer.
type QuestionResult struct {
	QuestionID string          `yaml:"question_id"`
	Verdict    QuestionVerdict `yaml:"verdict"`
}

// Evaluation is the parsed gate result. Counts must tally with PerQuestion:
// clear and needs_refinement count as answered, not_answered as empty,
// vague as vague, and the three sum to TotalCount.
type Evaluation struct {
	Verdict       Verdict          `yaml:"verdict"`
	AnsweredCount int              `yaml:"answered_count"`
	EmptyCount    int              `yaml:"empty_count"`
	VagueCount    int              `yaml:"vague_count"`
	TotalCount    int              `yaml:"total_count"`
	PerQuestion   []QuestionResult `yaml:"per_question"`
}

// Validate checks the evaluation's shape invariants.
func (e *Evaluation) Validate() error {
	if !e.Verdict.Valid() {
		return fmt.Errorf("unknown verdict %q", e.Verdict)
	}
	if e.AnsweredCount+e.EmptyCount+e.VagueCount != e.TotalCount {
		return fmt.Errorf("counts do not sum: %d+%d+%d != %d",
			e.AnsweredCount, e.EmptyCount, e.VagueCount, e.TotalCount)
	}
	if len(e.PerQuestion) != e.TotalCount {
		return fmt.Errorf("per_question has %d entries, total_count is %d",
			len(e.PerQuestion), e.TotalCount)
	}

	var answered, empty, vague int
	for _, q := range e.PerQuestion {
		switch q.Verdict {
		case QuestionClear, QuestionNeedsRefinement:
			answered++
		case QuestionNotAnswered:
			empty++
		case QuestionVague:
			vague++
		default:
			return fmt.Errorf("question %s: unknown verdict %q", q.QuestionID, q.Verdict)
		}
	}
	if answered != e.AnsweredCount || empty != e.EmptyCount || vague != e.VagueCount {
		return fmt.Errorf("per_question tally (%d/%d/%d) disagrees with counts (%d/%d/%d)",
			answered, empty, vague, e.AnsweredCount, e.EmptyCount, e.VagueCount)
	}
	return nil
}

// UnresolvedCount is the number of answers needing attention.
func (e *Evaluation) UnresolvedCount() int {
	return e.EmptyCount + e.VagueCount
}

// UnresolvedQuestions returns the IDs of empty or vague answers.
func (e *Evaluation) UnresolvedQuestions() []string {
	var ids []string
	for _, q := range e.PerQuestion {
		if q.Verdict == QuestionNotAnswered || q.Verdict == QuestionVague {
			ids = append(ids, q.QuestionID)
		}
	}
	return ids
}

// ParseEvaluation parses the evaluator's YAML output and validates its
// shape. A shape violation is EvaluatorMalformed; callers fail open on it.
func ParseEvaluation(data []byte) (*Evaluation, error) {
	var eval Evaluation
	if err := yaml.Unmarshal(data, &eval); err != nil {
		return nil, forgeerr.EvaluatorMalformed("gate", err)
	}
	if err := eval.Validate(); err != nil {
		return nil, forgeerr.EvaluatorMalformed("gate", err)
	}
	return &eval, nil
}

// Decision is a remediation action the user can take on a verdict.
type Decision string

const (
	// DecisionSkip jumps forward, marking intermediate steps complete.
	DecisionSkip Decision = "skip"
	// DecisionResearchAnyway proceeds normally to the next step.
	DecisionResearchAnyway Decision = "research_anyway"
	// DecisionAutofillAndResearch autofills empty/vague answers, then proceeds.
	DecisionAutofillAndResearch Decision = "autofill_and_research"
	// DecisionAutofillAndSkip autofills everything, then jumps forward.
	DecisionAutofillAndSkip Decision = "autofill_and_skip"
	// DecisionManual returns to the review step unchanged.
	DecisionManual Decision = "manual"
)

// Actions returns the decisions available for a verdict, preferred first.
func (v Verdict) Actions() []Decision {
	switch v {
	case VerdictSufficient:
		return []Decision{DecisionSkip, DecisionResearchAnyway}
	case VerdictMixed:
		return []Decision{DecisionAutofillAndResearch, DecisionManual}
	case VerdictInsufficient:
		return []Decision{DecisionAutofillAndSkip, DecisionManual}
	}
	return nil
}

// Allows reports whether a decision is legal for this verdict.
func (v Verdict) Allows(d Decision) bool {
	for _, a := range v.Actions() {
		if a == d {
			return true
		}
	}
	return false
}
