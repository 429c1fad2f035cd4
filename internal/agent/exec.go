package agent

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink receives run events and status transitions. The run registry
// satisfies this.
type Sink interface {
	AppendEvent(ev Event)
	SetStatus(runID string, status Status) error
}

// ExecService runs an external agent command per run: the prompt goes to
// stdin, stdout lines stream back as events, and the exit code decides the
// terminal status. This is the thinnest possible host for the opaque agent
// runtime contract.
type ExecService struct {
	command string
	args    []string
	sink    Sink
	logger  *slog.Logger
}

// NewExecService creates a service spawning the given command.
func NewExecService(command string, args []string, sink Sink, logger *slog.Logger) *ExecService {
	return &ExecService{
		command: command,
		args:    args,
		sink:    sink,
		logger:  logger,
	}
}

// Start implements Service. The returned run ID is live immediately;
// events may reach the sink before the caller registers the run, which the
// registry's upsert semantics absorb.
func (s *ExecService) Start(ctx context.Context, opts StartOptions) (string, error) {
	runID := uuid.NewString()

	args := append([]string(nil), s.args...)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	for k, v := range opts.Extra {
		args = append(args, "--"+k, v)
	}
	args = append(args, opts.Attachments...)

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdin = strings.NewReader(opts.Prompt)
	if opts.ContextDir != "" {
		if info, err := os.Stat(opts.ContextDir); err == nil && info.IsDir() {
			cmd.Dir = opts.ContextDir
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	go s.pump(ctx, runID, cmd, stdout)
	return runID, nil
}

func (s *ExecService) pump(ctx context.Context, runID string, cmd *exec.Cmd, stdout interface{ Read([]byte) (int, error) }) {
	s.sink.SetStatus(runID, StatusRunning)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.sink.AppendEvent(Event{
			RunID: runID,
			Kind:  EventAssistantText,
			Text:  scanner.Text(),
			At:    time.Now(),
		})
	}

	err := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		s.sink.SetStatus(runID, StatusShutdown)
	case err != nil:
		s.logger.Warn("agent command failed", "run_id", runID, "error", err)
		s.sink.SetStatus(runID, StatusError)
	default:
		s.sink.SetStatus(runID, StatusCompleted)
	}
}

var _ Service = (*ExecService)(nil)
