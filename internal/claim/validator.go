package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
)

// Check names the readiness checks in evaluation order.
const (
	CheckColumn       = "column"
	CheckLease        = "lease"
	CheckCapabilities = "capabilities"
	CheckDependencies = "dependencies"
)

// Report is the result of validating one task. FailingCheck and Reason are
// set only when Ready is false.
type Report struct {
	Ready        bool   `json:"ready"`
	FailingCheck string `json:"failing_check,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Validator explains whether a task would be claimable by an agent, without
// consuming a claim attempt. It runs the filter predicate decomposed into
// ordered checks and reports the first failure.
type Validator struct {
	tasks  task.Repository
	boards board.Repository
	now    func() time.Time
}

func NewValidator(tasks task.Repository, boards board.Repository) *Validator {
	return &Validator{tasks: tasks, boards: boards, now: time.Now}
}

func (v *Validator) Validate(ctx context.Context, taskID string, agent task.Agent) (*Report, error) {
	t, err := v.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	b, err := v.boards.Get(ctx, t.BoardID)
	if err != nil {
		return nil, err
	}

	col, ok := b.Column(t.ColumnID)
	if !ok || !col.Claimable {
		return failed(CheckColumn, fmt.Sprintf("task is in column %q, which is not claimable", t.ColumnID)), nil
	}

	now := v.now()
	if !t.Available(now) {
		switch {
		case t.Status == task.StatusLeased:
			reason := "task is leased"
			if t.LeaseExpiresAt != nil {
				reason = fmt.Sprintf("task is leased until %s", t.LeaseExpiresAt.Format(time.RFC3339))
			}
			return failed(CheckLease, reason), nil
		default:
			return failed(CheckLease, fmt.Sprintf("task status is %s", t.Status)), nil
		}
	}

	if !agent.HasCapabilities(t.RequiredCapabilities) {
		missing := missingCapabilities(agent, t.RequiredCapabilities)
		return failed(CheckCapabilities, fmt.Sprintf("agent lacks capabilities: %s", strings.Join(missing, ", "))), nil
	}

	unmet, err := firstUnmetDependency(ctx, v.tasks, t)
	if err != nil {
		return nil, err
	}
	if unmet != "" {
		return failed(CheckDependencies, fmt.Sprintf("dependency %s is not done", unmet)), nil
	}

	return &Report{Ready: true}, nil
}

func failed(check, reason string) *Report {
	return &Report{Ready: false, FailingCheck: check, Reason: reason}
}

func missingCapabilities(agent task.Agent, required []string) []string {
	have := make(map[string]struct{}, len(agent.Capabilities))
	for _, c := range agent.Capabilities {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
