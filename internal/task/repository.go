package task

import (
	"context"
	"time"
)

// Where selects tasks. Zero-value fields are not applied. It doubles as the
// guard of a conditional update: the same predicate is evaluated inside the
// atomic step, which is what makes claims safe under contention.
type Where struct {
	ID       string
	BoardID  string
	ColumnID string
	Status   Status
	// AvailableAt matches tasks that are open, or leased with a lease that
	// expired before the given instant.
	AvailableAt *time.Time
	// ExpiredAt matches tasks that are leased with a lease that expired
	// before the given instant.
	ExpiredAt *time.Time
}

// Matches evaluates the predicate against a task in memory.
func (w Where) Matches(t *Task) bool {
	if w.ID != "" && t.ID != w.ID {
		return false
	}
	if w.BoardID != "" && t.BoardID != w.BoardID {
		return false
	}
	if w.ColumnID != "" && t.ColumnID != w.ColumnID {
		return false
	}
	if w.Status != "" && t.Status != w.Status {
		return false
	}
	if w.AvailableAt != nil && !t.Available(*w.AvailableAt) {
		return false
	}
	if w.ExpiredAt != nil && !t.LeaseExpired(*w.ExpiredAt) {
		return false
	}
	return true
}

// Patch describes the mutation of a conditional update. Nil lease timestamps
// clear the stored values.
type Patch struct {
	Status         Status
	LeasedAt       *time.Time
	LeaseExpiresAt *time.Time
	UpdatedAt      time.Time
}

// Apply writes the patch onto a task in memory.
func (p Patch) Apply(t *Task) {
	t.Status = p.Status
	t.LeasedAt = p.LeasedAt
	t.LeaseExpiresAt = p.LeaseExpiresAt
	t.UpdatedAt = p.UpdatedAt
}

// Repository is the task store adapter. ConditionalUpdate must apply the
// patch to every row matching the predicate in one atomic step and return the
// affected ids; implementations guarantee no interleaving with other
// conditional updates.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Find(ctx context.Context, where Where) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	ConditionalUpdate(ctx context.Context, where Where, patch Patch) ([]string, error)
}
