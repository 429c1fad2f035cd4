package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/config"
	"github.com/skill-forge/forge/internal/lock"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <skill-id>",
	Short: "Remove a stale skill lock",
	Long: `Remove the lock file a crashed session left behind.

Refuses to remove a lock that a live session still holds.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	locks, err := lock.NewCoordinator(cfg.LocksDir(dir))
	if err != nil {
		return err
	}
	if err := locks.ForceUnlock(args[0]); err != nil {
		return err
	}
	fmt.Printf("Unlocked %s\n", args[0])
	return nil
}
