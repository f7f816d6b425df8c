package hook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Success(t *testing.T) {
	e := NewExecutor(t.TempDir())

	result, err := e.Execute(context.Background(), `echo "task is $CLAIMBOARD_TASK_ID"`, map[string]string{
		"CLAIMBOARD_TASK_ID": "t1",
	}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "task is t1\n", result.Output)
}

func TestExecutor_CombinedOutput(t *testing.T) {
	e := NewExecutor(t.TempDir())

	result, err := e.Execute(context.Background(), `echo out; echo err >&2`, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Contains(t, result.Output, "out")
	assert.Contains(t, result.Output, "err")
}

func TestExecutor_NonzeroExit(t *testing.T) {
	e := NewExecutor(t.TempDir())

	result, err := e.Execute(context.Background(), `echo failing; exit 3`, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNonzeroExit, result.Outcome)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "failing")
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(t.TempDir())

	start := time.Now()
	result, err := e.Execute(context.Background(), `sleep 10`, nil, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome)
	// Bound: the timeout plus a small teardown margin, never the sleep time.
	assert.Less(t, elapsed, 3*time.Second)
}

func TestExecutor_EnvNotInterpolated(t *testing.T) {
	e := NewExecutor(t.TempDir())

	// A value containing shell syntax stays inert data.
	result, err := e.Execute(context.Background(), `echo "$CLAIMBOARD_TASK_TITLE"`, map[string]string{
		"CLAIMBOARD_TASK_TITLE": `$(rm -rf /tmp/nope); echo pwned`,
	}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "$(rm -rf /tmp/nope); echo pwned\n", result.Output)
}
