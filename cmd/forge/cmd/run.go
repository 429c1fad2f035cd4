package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/types"
)

var runPurpose string

var runCmd = &cobra.Command{
	Use:   "run <skill-id>",
	Short: "Start or resume a skill's build workflow",
	Long: `Start or resume the build pipeline for a skill.

Agent-backed steps run automatically, chaining until the pipeline reaches
a review step. The command returns when your input is needed; pick up with
'forge done' after finishing a review.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPurpose, "purpose", "p", "", "one-line statement of what the skill is for")
}

func runRun(cmd *cobra.Command, args []string) error {
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
	if runPurpose != "" {
		a.engine.SetPurpose(runPurpose)
	}

	state := a.engine.State()
	cur := state.Steps[state.CurrentStep]
	if cur.Status == types.StepStatusPending || cur.Status == types.StepStatusError {
		if err := a.engine.StartStep(ctx, state.CurrentStep); err != nil {
			return err
		}
	}

	state = a.waitIdle(ctx)
	if ctx.Err() != nil {
		fmt.Println("\nInterrupted; progress saved.")
		return nil
	}

	printState(a.table, state)
	for _, snap := range state.Steps {
		if snap.Status == types.StepStatusWaitingForUser {
			fmt.Printf("\nStep %d (%s) is waiting for your review. Finish with 'forge done %s'.\n",
				snap.Index, a.table[snap.Index].Name, skillID)
		}
	}
	return nil
}
