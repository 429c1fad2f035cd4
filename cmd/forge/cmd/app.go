package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/artifacts"
	"github.com/skill-forge/forge/internal/audit"
	"github.com/skill-forge/forge/internal/config"
	"github.com/skill-forge/forge/internal/lock"
	"github.com/skill-forge/forge/internal/logging"
	"github.com/skill-forge/forge/internal/pack"
	"github.com/skill-forge/forge/internal/registry"
	"github.com/skill-forge/forge/internal/steps"
	"github.com/skill-forge/forge/internal/types"
	"github.com/skill-forge/forge/internal/workflow"
)

// app wires the collaborator graph every workflow-touching command needs.
type app struct {
	baseDir  string
	cfg      *config.Config
	logger   *slog.Logger
	logClose io.Closer

	table    steps.Table
	store    *artifacts.FSStore
	reg      *registry.Registry
	agents   agent.Service
	locks    *lock.Coordinator
	auditLog *audit.Log
	engine   *workflow.Engine

	stopFlush context.CancelFunc
}

// noopSessions satisfies workflow.SessionEnder for hosts without session
// lifecycle support.
type noopSessions struct{}

func (noopSessions) End(ctx context.Context, sessionID string) error { return nil }

func newApp() (*app, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	logger, logClose, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return nil, err
	}

	table := steps.Default()
	if err := table.Validate(); err != nil {
		return nil, err
	}

	store := artifacts.NewFSStore(filepath.Join(dir, cfg.Paths.SkillsDir))
	reg := registry.New(logger)
	agents := agent.NewExecService(cfg.Agent.Command, cfg.Agent.Args, reg, logger)

	locks, err := lock.NewCoordinator(cfg.LocksDir(dir))
	if err != nil {
		return nil, err
	}
	states, err := workflow.NewYAMLStateStore(cfg.StateDir(dir))
	if err != nil {
		return nil, err
	}

	engine := workflow.New(workflow.Deps{
		Config:    cfg,
		Table:     table,
		Store:     states,
		Artifacts: store,
		Registry:  reg,
		Agents:    agents,
		Locks:     locks,
		Sessions:  noopSessions{},
		Packager:  pack.NewDirPackager(store),
		Logger:    logger,
	})

	flushCtx, stopFlush := context.WithCancel(context.Background())
	go reg.Run(flushCtx, cfg.Orchestrator.FlushInterval)

	return &app{
		baseDir:   dir,
		cfg:       cfg,
		logger:    logger,
		logClose:  logClose,
		table:     table,
		store:     store,
		reg:       reg,
		agents:    agents,
		locks:     locks,
		auditLog:  audit.NewLog(cfg.AuditFile(dir)),
		engine:    engine,
		stopFlush: stopFlush,
	}, nil
}

// shutdown tears the app down. Safe after a partial session.
func (a *app) shutdown(ctx context.Context) {
	if err := a.engine.Close(ctx); err != nil {
		a.logger.Warn("engine close failed", "error", err)
	}
	a.stopFlush()
	if a.logClose != nil {
		a.logClose.Close()
	}
}

// waitIdle blocks until no step is in flight or the context is cancelled,
// then returns the final state.
func (a *app) waitIdle(ctx context.Context) *workflow.SavedState {
	ticker := time.NewTicker(a.cfg.Orchestrator.PollInterval)
	defer ticker.Stop()
	for {
		state := a.engine.State()
		if state == nil || !hasInProgress(state) {
			return state
		}
		select {
		case <-ctx.Done():
			return a.engine.State()
		case <-ticker.C:
		}
	}
}

func hasInProgress(state *workflow.SavedState) bool {
	for _, s := range state.Steps {
		if s.Status == types.StepStatusInProgress {
			return true
		}
	}
	return false
}

// loadState reads persisted workflow state without taking the skill lock.
func loadState(baseDir string, cfg *config.Config, skillID string) (*workflow.SavedState, error) {
	states, err := workflow.NewYAMLStateStore(cfg.StateDir(baseDir))
	if err != nil {
		return nil, err
	}
	return states.Load(skillID)
}

// printState renders one workflow's step list.
func printState(table steps.Table, state *workflow.SavedState) {
	fmt.Printf("%s  [%s]\n", state.SkillID, state.OverallStatus)
	if state.Purpose != "" {
		fmt.Printf("purpose: %s\n", state.Purpose)
	}
	disabled := make(map[int]bool, len(state.Disabled))
	for _, i := range state.Disabled {
		disabled[i] = true
	}
	for _, snap := range state.Steps {
		marker := " "
		if snap.Index == state.CurrentStep {
			marker = ">"
		}
		name := ""
		if snap.Index < len(table) {
			name = table[snap.Index].Name
		}
		line := fmt.Sprintf("%s %d. %-18s %s", marker, snap.Index, name, snap.Status)
		if disabled[snap.Index] {
			line += "  (out of scope)"
		}
		fmt.Println(line)
	}
}
