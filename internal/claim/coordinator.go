package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/hook"
	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/internal/telemetry"
	"github.com/claimboard/claimboard/pkg/cerr"
)

// Coordinator drives claim, unclaim, complete, and move. It holds no state
// between calls; claim safety rests entirely on the repository's guarded
// conditional update.
type Coordinator struct {
	tasks         task.Repository
	boards        board.Repository
	filter        *Filter
	hooks         *hook.Orchestrator
	sink          telemetry.Sink
	leaseDuration time.Duration
	now           func() time.Time
}

func NewCoordinator(tasks task.Repository, boards board.Repository, hooks *hook.Orchestrator, sink telemetry.Sink, leaseDuration time.Duration) *Coordinator {
	return &Coordinator{
		tasks:         tasks,
		boards:        boards,
		filter:        NewFilter(tasks),
		hooks:         hooks,
		sink:          sink,
		leaseDuration: leaseDuration,
		now:           time.Now,
	}
}

// Next returns the task a claim would pick, without claiming it.
func (c *Coordinator) Next(ctx context.Context, boardID, columnID string, agent task.Agent) (*task.Task, error) {
	_, col, err := c.resolveColumn(ctx, boardID, columnID)
	if err != nil {
		return nil, err
	}
	return c.filter.Next(ctx, boardID, col.ID, agent, c.now())
}

// Claim picks a candidate, runs the blocking before_claim hook, then issues
// one guarded update leasing the task. Zero affected rows means another
// caller won the race; the caller retries with a fresh Claim. Eligibility is
// computed twice and only the guarded re-check is authoritative.
func (c *Coordinator) Claim(ctx context.Context, boardID, columnID string, agent task.Agent) (*task.Task, error) {
	b, col, err := c.resolveColumn(ctx, boardID, columnID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	candidate, err := c.filter.Next(ctx, b.ID, col.ID, agent, now)
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hook.RunInput{
		Point:  hook.BeforeClaim,
		Task:   candidate,
		Board:  b,
		Column: col,
		Agent:  agent,
	}); err != nil {
		return nil, err
	}

	expiresAt := now.Add(c.leaseDuration)
	affected, err := c.tasks.ConditionalUpdate(ctx,
		task.Where{ID: candidate.ID, AvailableAt: &now},
		task.Patch{Status: task.StatusLeased, LeasedAt: &now, LeaseExpiresAt: &expiresAt, UpdatedAt: now},
	)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		c.sink.Emit(ctx, telemetry.EventClaimConflict, candidate.ID, map[string]string{"agent": agent.Name})
		return nil, cerr.NewError(cerr.Aborted, "claim lost the race, retry", nil)
	}

	claimed, err := c.tasks.Get(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}

	c.runAfter(ctx, hook.RunInput{Point: hook.AfterClaim, Task: claimed, Board: b, Column: col, Agent: agent})
	c.sink.Emit(ctx, telemetry.EventTaskClaimed, claimed.ID, map[string]string{
		"agent":            agent.Name,
		"lease_expires_at": expiresAt.Format(time.RFC3339),
	})
	return claimed, nil
}

// Unclaim releases a leased task back to open. Lease ownership is not
// verified; the reason is recorded in telemetry only, never on the task.
func (c *Coordinator) Unclaim(ctx context.Context, taskID, reason string, agent task.Agent) (*task.Task, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusLeased {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not claimed", nil)
	}
	b, col, err := c.taskColumn(ctx, t)
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hook.RunInput{
		Point:  hook.BeforeUnclaim,
		Task:   t,
		Board:  b,
		Column: col,
		Agent:  agent,
		Reason: reason,
	}); err != nil {
		return nil, err
	}

	now := c.now()
	affected, err := c.tasks.ConditionalUpdate(ctx,
		task.Where{ID: t.ID, Status: task.StatusLeased},
		task.Patch{Status: task.StatusOpen, UpdatedAt: now},
	)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, cerr.NewError(cerr.Aborted, "task state changed concurrently, retry", nil)
	}

	released, err := c.tasks.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	c.runAfter(ctx, hook.RunInput{Point: hook.AfterUnclaim, Task: released, Board: b, Column: col, Agent: agent, Reason: reason})
	c.sink.Emit(ctx, telemetry.EventTaskUnclaimed, released.ID, map[string]string{
		"agent":  agent.Name,
		"reason": reason,
	})
	return released, nil
}

// Complete marks a leased task done and clears its lease. A failing
// before_complete hook leaves the task untouched.
func (c *Coordinator) Complete(ctx context.Context, taskID string, agent task.Agent) (*task.Task, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusLeased {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not claimed", nil)
	}
	b, col, err := c.taskColumn(ctx, t)
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hook.RunInput{
		Point:  hook.BeforeComplete,
		Task:   t,
		Board:  b,
		Column: col,
		Agent:  agent,
	}); err != nil {
		return nil, err
	}

	now := c.now()
	affected, err := c.tasks.ConditionalUpdate(ctx,
		task.Where{ID: t.ID, Status: task.StatusLeased},
		task.Patch{Status: task.StatusDone, UpdatedAt: now},
	)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, cerr.NewError(cerr.Aborted, "task state changed concurrently, retry", nil)
	}

	done, err := c.tasks.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	c.runAfter(ctx, hook.RunInput{Point: hook.AfterComplete, Task: done, Board: b, Column: col, Agent: agent})
	c.sink.Emit(ctx, telemetry.EventTaskCompleted, done.ID, map[string]string{"agent": agent.Name})
	return done, nil
}

// Move relocates a task to another column on its board, wrapped in the
// column exit and enter hooks. A failing before_* hook on either side
// leaves the task in place.
func (c *Coordinator) Move(ctx context.Context, taskID, targetColumnID string, agent task.Agent) (*task.Task, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	b, src, err := c.taskColumn(ctx, t)
	if err != nil {
		return nil, err
	}
	dst, ok := b.Column(targetColumnID)
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("column %q not found", targetColumnID), nil)
	}
	if src.ID == dst.ID {
		return t, nil
	}

	if err := c.hooks.Run(ctx, hook.RunInput{
		Point:  hook.BeforeColumnExit,
		Task:   t,
		Board:  b,
		Column: src,
		Agent:  agent,
	}); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hook.RunInput{
		Point:      hook.BeforeColumnEnter,
		Task:       t,
		Board:      b,
		Column:     dst,
		PrevColumn: src,
		Agent:      agent,
	}); err != nil {
		return nil, err
	}

	t.ColumnID = dst.ID
	t.UpdatedAt = c.now()
	if err := c.tasks.Update(ctx, t); err != nil {
		return nil, err
	}

	c.runAfter(ctx, hook.RunInput{Point: hook.AfterColumnExit, Task: t, Board: b, Column: src, Agent: agent})
	c.runAfter(ctx, hook.RunInput{Point: hook.AfterColumnEnter, Task: t, Board: b, Column: dst, PrevColumn: src, Agent: agent})
	c.sink.Emit(ctx, telemetry.EventTaskMoved, t.ID, map[string]string{
		"agent": agent.Name,
		"from":  src.ID,
		"to":    dst.ID,
	})
	return t, nil
}

// runAfter dispatches a non-blocking hook. Run never returns an error for
// after_* points, so the return is ignored.
func (c *Coordinator) runAfter(ctx context.Context, in hook.RunInput) {
	_ = c.hooks.Run(ctx, in)
}

// resolveColumn loads the board and picks the claim column: the named one,
// or the board's first claimable column when columnID is empty.
func (c *Coordinator) resolveColumn(ctx context.Context, boardID, columnID string) (*board.Board, *board.Column, error) {
	if boardID == "" {
		boardID = board.DefaultBoardID
	}
	b, err := c.boards.Get(ctx, boardID)
	if err != nil {
		return nil, nil, err
	}
	if columnID == "" {
		for i := range b.Columns {
			if b.Columns[i].Claimable {
				return b, &b.Columns[i], nil
			}
		}
		return nil, nil, cerr.NewError(cerr.FailedPrecondition, "board has no claimable column", nil)
	}
	col, ok := b.Column(columnID)
	if !ok {
		return nil, nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("column %q not found", columnID), nil)
	}
	if !col.Claimable {
		return nil, nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("column %q is not claimable", columnID), nil)
	}
	return b, col, nil
}

func (c *Coordinator) taskColumn(ctx context.Context, t *task.Task) (*board.Board, *board.Column, error) {
	b, err := c.boards.Get(ctx, t.BoardID)
	if err != nil {
		return nil, nil, err
	}
	col, ok := b.Column(t.ColumnID)
	if !ok {
		return nil, nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("task %s references unknown column %s", t.ID, t.ColumnID))
	}
	return b, col, nil
}
