package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset <skill-id> <step>",
	Short: "Reset a step and everything after it",
	Long: `Revert a step and all later steps to pending, deleting their output
artifacts. Destructive; asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	skillID := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("step must be a number: %q", args[1])
	}

	if !resetYes {
		fmt.Printf("This deletes artifacts for step %d and later in %s. Continue? [y/N] ", index, skillID)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.shutdown(context.Background())

	if err := a.engine.Initialize(ctx, skillID); err != nil {
		return err
	}
	if err := a.engine.ResetStep(ctx, index); err != nil {
		return err
	}

	printState(a.table, a.engine.State())
	return nil
}
