package claim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
)

func newTestValidator(t *testing.T) (*Validator, task.Repository) {
	t.Helper()
	repo := newFilterRepo(t)
	boards := stubBoards{b: board.DefaultBoard(time.Now())}
	return NewValidator(repo, boards), repo
}

func TestValidator_Ready(t *testing.T) {
	v, repo := newTestValidator(t)
	seedTask(t, repo, &task.Task{ID: "t1", ColumnID: "ready", CreatedAt: time.Now()})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a"})
	require.NoError(t, err)
	assert.True(t, report.Ready)
	assert.Empty(t, report.FailingCheck)
}

func TestValidator_CheckOrder(t *testing.T) {
	v, repo := newTestValidator(t)
	now := time.Now()
	live := now.Add(time.Hour)

	// Fails every check at once; the column check must win because it is
	// evaluated first.
	seedTask(t, repo, &task.Task{
		ID:                   "t1",
		ColumnID:             "backlog",
		Status:               task.StatusLeased,
		LeasedAt:             &now,
		LeaseExpiresAt:       &live,
		RequiredCapabilities: []string{"documentation"},
		DependsOn:            []string{"ghost"},
		CreatedAt:            now,
	})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a"})
	require.NoError(t, err)
	assert.False(t, report.Ready)
	assert.Equal(t, CheckColumn, report.FailingCheck)
}

func TestValidator_LeaseCheck(t *testing.T) {
	v, repo := newTestValidator(t)
	now := time.Now()
	live := now.Add(time.Hour)
	seedTask(t, repo, &task.Task{
		ID: "t1", ColumnID: "ready", Status: task.StatusLeased,
		LeasedAt: &now, LeaseExpiresAt: &live, CreatedAt: now,
	})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a"})
	require.NoError(t, err)
	assert.False(t, report.Ready)
	assert.Equal(t, CheckLease, report.FailingCheck)
	assert.Contains(t, report.Reason, "leased until")
}

func TestValidator_DoneTaskFailsLeaseCheck(t *testing.T) {
	v, repo := newTestValidator(t)
	seedTask(t, repo, &task.Task{ID: "t1", ColumnID: "ready", Status: task.StatusDone, CreatedAt: time.Now()})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a"})
	require.NoError(t, err)
	assert.False(t, report.Ready)
	assert.Equal(t, CheckLease, report.FailingCheck)
	assert.Contains(t, report.Reason, "done")
}

func TestValidator_CapabilityCheck(t *testing.T) {
	v, repo := newTestValidator(t)
	seedTask(t, repo, &task.Task{
		ID: "t1", ColumnID: "ready",
		RequiredCapabilities: []string{"documentation", "security_analysis"},
		CreatedAt:            time.Now(),
	})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a", Capabilities: []string{"documentation"}})
	require.NoError(t, err)
	assert.False(t, report.Ready)
	assert.Equal(t, CheckCapabilities, report.FailingCheck)
	assert.Contains(t, report.Reason, "security_analysis")
	assert.NotContains(t, report.Reason, "documentation,")
}

func TestValidator_DependencyCheck(t *testing.T) {
	v, repo := newTestValidator(t)
	seedTask(t, repo, &task.Task{ID: "dep", ColumnID: "doing", CreatedAt: time.Now()})
	seedTask(t, repo, &task.Task{ID: "t1", ColumnID: "ready", DependsOn: []string{"dep"}, CreatedAt: time.Now()})

	report, err := v.Validate(context.Background(), "t1", task.Agent{Name: "a"})
	require.NoError(t, err)
	assert.False(t, report.Ready)
	assert.Equal(t, CheckDependencies, report.FailingCheck)
	assert.Contains(t, report.Reason, "dep")
}

func TestValidator_UnknownTask(t *testing.T) {
	v, _ := newTestValidator(t)

	_, err := v.Validate(context.Background(), "ghost", task.Agent{Name: "a"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
