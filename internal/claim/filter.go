package claim

import (
	"context"
	"sort"
	"time"

	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
)

// Filter selects the next claimable task. The predicate is pure and
// re-evaluated on every call; the result is advisory only, the guarded
// update inside Claim is what decides the race.
type Filter struct {
	tasks task.Repository
}

func NewFilter(tasks task.Repository) *Filter {
	return &Filter{tasks: tasks}
}

// Next returns the best eligible task in the column for the agent at now:
// available (open, or leased with a lapsed lease), dependencies all done,
// required capabilities covered. Candidates are ordered by priority
// ascending with absent priority last, then by creation time. Returns
// NotFound when nothing is eligible.
func (f *Filter) Next(ctx context.Context, boardID, columnID string, agent task.Agent, now time.Time) (*task.Task, error) {
	candidates, err := f.tasks.Find(ctx, task.Where{
		BoardID:     boardID,
		ColumnID:    columnID,
		AvailableAt: &now,
	})
	if err != nil {
		return nil, err
	}

	eligible := make([]*task.Task, 0, len(candidates))
	for _, t := range candidates {
		if !agent.HasCapabilities(t.RequiredCapabilities) {
			continue
		}
		unmet, err := firstUnmetDependency(ctx, f.tasks, t)
		if err != nil {
			return nil, err
		}
		if unmet != "" {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, cerr.NewError(cerr.NotFound, "no eligible task", nil)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return lessByPriority(eligible[i], eligible[j])
	})
	return eligible[0], nil
}

func lessByPriority(a, b *task.Task) bool {
	switch {
	case a.Priority == nil && b.Priority == nil:
	case a.Priority == nil:
		return false
	case b.Priority == nil:
		return true
	case *a.Priority != *b.Priority:
		return *a.Priority < *b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// firstUnmetDependency returns the id of the first dependency that is not
// done. A dependency that cannot be fetched counts as unmet; the check is
// best-effort and re-run on every claim attempt.
func firstUnmetDependency(ctx context.Context, repo task.Repository, t *task.Task) (string, error) {
	for _, dep := range t.DependsOn {
		d, err := repo.Get(ctx, dep)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				return dep, nil
			}
			return "", err
		}
		if d.Status != task.StatusDone {
			return dep, nil
		}
	}
	return "", nil
}
