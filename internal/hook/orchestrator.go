package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/internal/telemetry"
	"github.com/claimboard/claimboard/pkg/cerr"
	"github.com/claimboard/claimboard/pkg/panicerr"
)

// RunInput identifies one workflow transition for hook dispatch.
type RunInput struct {
	Point      Point
	Task       *task.Task
	Board      *board.Board
	Column     *board.Column
	PrevColumn *board.Column
	Agent      task.Agent
	// Reason is set only for unclaim points.
	Reason string
}

// Orchestrator resolves, executes, and reports hooks around workflow
// transitions. before_* points run synchronously and a non-success outcome
// fails the caller; after_* points are dispatched in the background and only
// logged.
type Orchestrator struct {
	loader         *Loader
	executor       *Executor
	sink           telemetry.Sink
	defaultTimeout time.Duration
	wg             conc.WaitGroup
}

func NewOrchestrator(loader *Loader, executor *Executor, sink telemetry.Sink, defaultTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		loader:         loader,
		executor:       executor,
		sink:           sink,
		defaultTimeout: defaultTimeout,
	}
}

// Run dispatches the hook for one transition point. For blocking points the
// returned error aborts the transition; for non-blocking points it is always
// nil.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) error {
	if in.Point.Blocking() {
		result, err := o.execute(ctx, in)
		if err != nil {
			return err
		}
		switch result.Outcome {
		case OutcomeSuccess, OutcomeNotConfigured:
			return nil
		case OutcomeTimeout:
			return cerr.NewErrorWithDetails(cerr.FailedPrecondition,
				fmt.Sprintf("hook %s timed out", in.Point), nil, outputDetails(result))
		default:
			return cerr.NewErrorWithDetails(cerr.FailedPrecondition,
				fmt.Sprintf("hook %s failed with exit code %d", in.Point, result.ExitCode), nil, outputDetails(result))
		}
	}

	// Detach from the request so the hook survives the response being sent.
	bgCtx := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		err := panicerr.Safe(func() error {
			result, err := o.execute(bgCtx, in)
			if err != nil {
				return err
			}
			if result.Outcome != OutcomeSuccess && result.Outcome != OutcomeNotConfigured {
				slog.WarnContext(bgCtx, "hook finished with non-success outcome",
					slog.String("point", string(in.Point)),
					slog.String("outcome", string(result.Outcome)),
					slog.Int("exit_code", result.ExitCode))
			}
			return nil
		})()
		if err != nil {
			slog.ErrorContext(bgCtx, "hook dispatch failed",
				slog.String("point", string(in.Point)),
				slog.String("error", err.Error()))
		}
	})
	return nil
}

// Wait blocks until every in-flight non-blocking hook has finished. Called
// on shutdown so telemetry for dispatched hooks is not lost.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, in RunInput) (*ExecutionResult, error) {
	timeout := o.defaultTimeout
	if setting, ok := in.Column.HookSetting(string(in.Point)); ok {
		if !setting.Enabled {
			return &ExecutionResult{Outcome: OutcomeNotConfigured}, nil
		}
		if setting.TimeoutSeconds > 0 {
			timeout = time.Duration(setting.TimeoutSeconds) * time.Second
		}
	}

	cfg, err := o.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	command, ok := cfg.Command(in.Agent.Name, in.Point, in.Column.ID, in.Column.Name)
	if !ok {
		return &ExecutionResult{Outcome: OutcomeNotConfigured}, nil
	}

	env := BuildEnv(EnvInput{
		Task:       in.Task,
		Board:      in.Board,
		Column:     in.Column,
		PrevColumn: in.PrevColumn,
		Agent:      in.Agent,
		Point:      in.Point,
		Timeout:    timeout,
		Reason:     in.Reason,
	})
	result, err := o.executor.Execute(ctx, command, env, timeout)
	if err != nil {
		return nil, err
	}

	o.sink.Emit(ctx, telemetry.EventHookExecuted, in.Task.ID, map[string]string{
		"point":       string(in.Point),
		"agent":       in.Agent.Name,
		"outcome":     string(result.Outcome),
		"exit_code":   strconv.Itoa(result.ExitCode),
		"duration_ms": strconv.FormatInt(result.Duration.Milliseconds(), 10),
	})
	return result, nil
}

// outputDetails trims the captured output into detail lines safe to return
// to the caller.
func outputDetails(result *ExecutionResult) []string {
	const maxLines = 20
	output := strings.TrimSpace(result.Output)
	if output == "" {
		return nil
	}
	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}
