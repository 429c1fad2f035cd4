package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/artifacts"
	"github.com/skill-forge/forge/internal/config"
	"github.com/skill-forge/forge/internal/logging"
	"github.com/skill-forge/forge/internal/steps"
)

var (
	statusJSON  bool
	statusWatch bool
)

var statusCmd = &cobra.Command{
	Use:   "status <skill-id>",
	Short: "Show a skill's workflow progress",
	Long: `Display the persisted pipeline state for a skill.

Reads state without taking the skill lock, so it is safe while a
'forge run' session is active elsewhere.

Examples:
  forge status my-skill           # Show step list
  forge status my-skill --json    # Output as JSON
  forge status my-skill --watch   # Re-render when artifacts change`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Re-render on artifact changes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	skillID := args[0]
	table := steps.Default()

	render := func() error {
		state, err := loadState(dir, cfg, skillID)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no workflow state for %s", skillID)
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		}
		printState(table, state)
		return nil
	}

	if err := render(); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Watch the skill's artifact tree: step outputs landing there are the
	// signal that the persisted state is about to move.
	logger := logging.NewDefault()
	store := artifacts.NewFSStore(filepath.Join(dir, cfg.Paths.SkillsDir))
	watcher, err := artifacts.NewWatcher(store, skillID, logger)
	if err != nil {
		return err
	}
	defer watcher.Close()
	go watcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Changes():
			if !ok {
				return nil
			}
			fmt.Println()
			if err := render(); err != nil {
				return err
			}
		}
	}
}
