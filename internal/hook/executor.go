package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/claimboard/claimboard/pkg/cerr"
)

type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeNonzeroExit   Outcome = "nonzero_exit"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeNotConfigured Outcome = "not_configured"
)

// ExecutionResult is the record of one hook run.
type ExecutionResult struct {
	Outcome  Outcome
	ExitCode int
	Output   string
	Duration time.Duration
}

// Executor runs hook commands with the embedded POSIX shell interpreter,
// so hooks behave the same on every platform and no /bin/sh is required.
type Executor struct {
	workDir string
}

func NewExecutor(workDir string) *Executor {
	return &Executor{workDir: workDir}
}

// Execute runs command under timeout with env layered over the process
// environment, capturing stdout and stderr combined. Timeout and nonzero
// exit are outcomes, not errors; the error return is reserved for failures
// of the executor itself.
func (e *Executor) Execute(ctx context.Context, command string, env map[string]string, timeout time.Duration) (*ExecutionResult, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "hook")
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid hook command", err)
	}

	// The default exec handler gives spawned processes a short grace period
	// between context cancellation and a hard kill.
	var out bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &out, &out),
		interp.Env(expand.ListEnviron(mergeEnviron(env)...)),
		interp.Dir(e.workDir),
	)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to build hook runner: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	runErr := runner.Run(runCtx, file)
	result := &ExecutionResult{
		Outcome:  OutcomeSuccess,
		Output:   out.String(),
		Duration: time.Since(start),
	}
	if runErr == nil {
		return result, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Outcome = OutcomeTimeout
		result.ExitCode = -1
		return result, nil
	}
	if code, ok := interp.IsExitStatus(runErr); ok {
		result.Outcome = OutcomeNonzeroExit
		result.ExitCode = int(code)
		return result, nil
	}
	return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("hook run failed: %w", runErr))
}

// mergeEnviron layers the hook variables over the process environment.
func mergeEnviron(env map[string]string) []string {
	merged := os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}
