package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/config"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge - guided skill building",
	Long: `forge walks a skill through a fixed build pipeline: explore, review,
research, draft, review, package. Agent-backed steps run automatically and
hand off to you at every review point.

Run 'forge run <skill-id>' to start or resume a skill.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// No subcommand: list known skills and their progress.
		return listSkills()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("forge {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// listSkills prints every skill with persisted workflow state.
func listSkills() error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.StateDir(dir))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No skills yet. Run 'forge run <skill-id>' to start one.")
			return nil
		}
		return err
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(filepath.Base(name), ".yaml"))
	}
	if len(ids) == 0 {
		fmt.Println("No skills yet. Run 'forge run <skill-id>' to start one.")
		return nil
	}
	sort.Strings(ids)

	for _, id := range ids {
		state, err := loadState(dir, cfg, id)
		if err != nil || state == nil {
			fmt.Printf("  %-30s (unreadable state)\n", id)
			continue
		}
		fmt.Printf("  %-30s %-12s step %d/%d\n",
			id, state.OverallStatus, state.CurrentStep+1, len(state.Steps))
	}
	return nil
}
