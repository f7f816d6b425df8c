package hook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
)

func TestBuildEnv(t *testing.T) {
	priority := 2
	in := EnvInput{
		Task: &task.Task{
			ID:                   "t1",
			Title:                "write docs",
			Status:               task.StatusLeased,
			Priority:             &priority,
			RequiredCapabilities: []string{"documentation", "writing"},
		},
		Board:      &board.Board{ID: "default", Name: "Default"},
		Column:     &board.Column{ID: "ready", Name: "Ready"},
		PrevColumn: &board.Column{ID: "backlog", Name: "Backlog"},
		Agent:      task.Agent{Name: "doc-agent", Capabilities: []string{"documentation"}},
		Point:      BeforeUnclaim,
		Timeout:    30 * time.Second,
		Reason:     "blocked on review",
	}

	env := BuildEnv(in)
	assert.Equal(t, "t1", env["CLAIMBOARD_TASK_ID"])
	assert.Equal(t, "write docs", env["CLAIMBOARD_TASK_TITLE"])
	assert.Equal(t, "leased", env["CLAIMBOARD_TASK_STATUS"])
	assert.Equal(t, "2", env["CLAIMBOARD_TASK_PRIORITY"])
	assert.Equal(t, "documentation,writing", env["CLAIMBOARD_TASK_CAPABILITIES"])
	assert.Equal(t, "default", env["CLAIMBOARD_BOARD_ID"])
	assert.Equal(t, "Ready", env["CLAIMBOARD_COLUMN_NAME"])
	assert.Equal(t, "backlog", env["CLAIMBOARD_PREV_COLUMN_ID"])
	assert.Equal(t, "doc-agent", env["CLAIMBOARD_AGENT_NAME"])
	assert.Equal(t, "before_unclaim", env["CLAIMBOARD_HOOK_POINT"])
	assert.Equal(t, "30", env["CLAIMBOARD_HOOK_TIMEOUT"])
	assert.Equal(t, "blocked on review", env["CLAIMBOARD_UNCLAIM_REASON"])
}

func TestBuildEnv_ReasonOnlyForUnclaim(t *testing.T) {
	in := EnvInput{
		Task:    &task.Task{ID: "t1"},
		Column:  &board.Column{ID: "ready", Name: "Ready"},
		Point:   BeforeClaim,
		Timeout: time.Second,
		Reason:  "should not leak",
	}
	env := BuildEnv(in)
	_, ok := env["CLAIMBOARD_UNCLAIM_REASON"]
	assert.False(t, ok)

	// Absent priority is an empty string, not a missing variable.
	assert.Equal(t, "", env["CLAIMBOARD_TASK_PRIORITY"])
}
