package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/gate"
	"github.com/skill-forge/forge/internal/types"
	"github.com/skill-forge/forge/internal/workflow"
)

var doneDecision string

var doneCmd = &cobra.Command{
	Use:   "done <skill-id>",
	Short: "Finish the review step that is waiting for you",
	Long: `Mark the waiting review step finished.

For a gated review step (review-checklist), a fast model first evaluates
the checklist and reports how much of it remains unresolved. The verdict
limits which decisions are available:

  sufficient:   skip, research_anyway
  mixed:        autofill_and_research, manual
  insufficient: autofill_and_skip, manual

With no --decision, the verdict and choices are printed and nothing
changes; re-run with --decision to act.`,
	Args: cobra.ExactArgs(1),
	RunE: runDone,
}

func init() {
	rootCmd.AddCommand(doneCmd)

	doneCmd.Flags().StringVarP(&doneDecision, "decision", "d", "",
		"gate decision (skip, research_anyway, autofill_and_research, autofill_and_skip, manual)")
}

func runDone(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	skillID := args[0]
	if err := a.engine.Initialize(ctx, skillID); err != nil {
		return err
	}

	state := a.engine.State()
	index := -1
	for _, snap := range state.Steps {
		if snap.Status == types.StepStatusWaitingForUser {
			index = snap.Index
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("no step is waiting for review in %s", skillID)
	}
	def := a.table[index]

	// The gate decides whether to enter the step after the review; when a
	// scope determination already ruled that step out there is nothing to
	// decide, so the review completes without an evaluation run.
	if def.Gate == nil || stepDisabled(state, index+1) {
		if err := a.engine.CompleteStep(index); err != nil {
			return err
		}
	} else {
		ev := gate.NewEvaluator(a.agents, a.reg, a.store, a.auditLog,
			a.cfg.Models.Gate, a.cfg.Orchestrator.PollInterval, a.logger)
		outcome := ev.Evaluate(ctx, skillID, def.Gate.QAPath)

		printOutcome(outcome)
		if doneDecision == "" {
			fmt.Println("\nNo decision given; nothing changed. Re-run with --decision.")
			return nil
		}

		decision := gate.Decision(doneDecision)
		if err := ev.Apply(ctx, a.engine, outcome, skillID, def.Gate.QAPath,
			index, def.Gate.DecisionStep, decision); err != nil {
			return err
		}
		fmt.Printf("Applied decision: %s\n", decision)
	}

	state = a.waitIdle(ctx)
	if ctx.Err() != nil {
		fmt.Println("\nInterrupted; progress saved.")
		return nil
	}
	printState(a.table, state)
	return nil
}

// stepDisabled reports whether a step was ruled out of scope.
func stepDisabled(state *workflow.SavedState, index int) bool {
	for _, i := range state.Disabled {
		if i == index {
			return true
		}
	}
	return false
}

func printOutcome(outcome *gate.Outcome) {
	if outcome.FailedOpen {
		fmt.Println("Gate evaluation unavailable; treating the checklist as sufficient.")
	} else {
		fmt.Printf("Checklist verdict: %s\n", outcome.Verdict)
		if outcome.Evaluation != nil && outcome.Evaluation.UnresolvedCount() > 0 {
			fmt.Printf("Unresolved questions (%d):\n", outcome.Evaluation.UnresolvedCount())
			for _, q := range outcome.Evaluation.UnresolvedQuestions() {
				fmt.Printf("  - %s\n", q)
			}
		}
	}

	actions := outcome.Verdict.Actions()
	labels := make([]string, len(actions))
	for i, d := range actions {
		labels[i] = string(d)
	}
	fmt.Printf("Available decisions: %s\n", strings.Join(labels, ", "))
}
