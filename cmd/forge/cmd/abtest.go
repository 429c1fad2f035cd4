package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skill-forge/forge/internal/abtest"
)

var (
	abtestTask     string
	abtestTaskFile string
)

var abtestCmd = &cobra.Command{
	Use:   "abtest <skill-id>",
	Short: "Compare a task run with and without the skill",
	Long: `Run the same task twice, once in a bare context and once with the
skill's draft installed, then have a judge model compare the transcripts.

The judge reports per-dimension verdict lines (improved, regressed, or no
difference) and optional recommendations for the draft.

Examples:
  forge abtest my-skill --task "Summarize the attached report"
  forge abtest my-skill --task-file tasks/summarize.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAbtest,
}

func init() {
	rootCmd.AddCommand(abtestCmd)

	abtestCmd.Flags().StringVarP(&abtestTask, "task", "t", "", "Task prompt")
	abtestCmd.Flags().StringVar(&abtestTaskFile, "task-file", "", "File containing the task prompt")
	abtestCmd.MarkFlagsOneRequired("task", "task-file")
	abtestCmd.MarkFlagsMutuallyExclusive("task", "task-file")
}

func runAbtest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	task := abtestTask
	if abtestTaskFile != "" {
		data, err := os.ReadFile(abtestTaskFile)
		if err != nil {
			return fmt.Errorf("reading task file: %w", err)
		}
		task = string(data)
	}
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("task prompt is empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	ev := abtest.NewEvaluator(a.agents, a.reg, abtest.NewFSContextManager(a.store),
		a.cfg.Models.Step, a.cfg.Models.Judge, a.cfg.Orchestrator.PollInterval, a.logger)

	result, err := ev.Run(ctx, args[0], task)
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func printResult(result *abtest.Result) {
	if result.Baseline.Failed() || result.Treatment.Failed() {
		fmt.Println("One attempt failed; the comparison below covers the surviving transcript.")
	}
	fmt.Printf("baseline:  %s\ntreatment: %s\n\n", result.Baseline.Status, result.Treatment.Status)

	for _, line := range result.Lines {
		fmt.Printf("  %s %s\n", glyph(line.Direction), line.Text)
	}
	if result.Recommendations != "" {
		fmt.Printf("\nRecommendations:\n%s\n", result.Recommendations)
	}
}

func glyph(d abtest.Direction) string {
	switch d {
	case abtest.DirectionUp:
		return "↑"
	case abtest.DirectionDown:
		return "↓"
	case abtest.DirectionNeutral:
		return "→"
	}
	return "·"
}
