package hook

import (
	"strconv"
	"strings"
	"time"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
)

const envPrefix = "CLAIMBOARD_"

// EnvInput carries everything a hook command may observe.
type EnvInput struct {
	Task       *task.Task
	Board      *board.Board
	Column     *board.Column
	PrevColumn *board.Column
	Agent      task.Agent
	Point      Point
	Timeout    time.Duration
	// Reason is set only for unclaim points.
	Reason string
}

// BuildEnv flattens the input into CLAIMBOARD_* variables. The map is passed
// to the subprocess through its environment table; values are never
// interpolated into the command text, so a hostile task title cannot inject
// shell syntax.
func BuildEnv(in EnvInput) map[string]string {
	env := map[string]string{
		envPrefix + "HOOK_POINT":         string(in.Point),
		envPrefix + "HOOK_TIMEOUT":       strconv.Itoa(int(in.Timeout / time.Second)),
		envPrefix + "AGENT_NAME":         in.Agent.Name,
		envPrefix + "AGENT_CAPABILITIES": strings.Join(in.Agent.Capabilities, ","),
	}
	if in.Task != nil {
		env[envPrefix+"TASK_ID"] = in.Task.ID
		env[envPrefix+"TASK_TITLE"] = in.Task.Title
		env[envPrefix+"TASK_STATUS"] = string(in.Task.Status)
		env[envPrefix+"TASK_CAPABILITIES"] = strings.Join(in.Task.RequiredCapabilities, ",")
		if in.Task.Priority != nil {
			env[envPrefix+"TASK_PRIORITY"] = strconv.Itoa(*in.Task.Priority)
		} else {
			env[envPrefix+"TASK_PRIORITY"] = ""
		}
	}
	if in.Board != nil {
		env[envPrefix+"BOARD_ID"] = in.Board.ID
		env[envPrefix+"BOARD_NAME"] = in.Board.Name
	}
	if in.Column != nil {
		env[envPrefix+"COLUMN_ID"] = in.Column.ID
		env[envPrefix+"COLUMN_NAME"] = in.Column.Name
	}
	if in.PrevColumn != nil {
		env[envPrefix+"PREV_COLUMN_ID"] = in.PrevColumn.ID
		env[envPrefix+"PREV_COLUMN_NAME"] = in.PrevColumn.Name
	}
	if in.Point == BeforeUnclaim || in.Point == AfterUnclaim {
		env[envPrefix+"UNCLAIM_REASON"] = in.Reason
	}
	return env
}
