package task

import "time"

// Status is the persisted lifecycle state of a task.
type Status string

const (
	StatusOpen    Status = "open"
	StatusLeased  Status = "leased"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusLeased, StatusDone, StatusBlocked:
		return true
	}
	return false
}

type Task struct {
	ID                   string     `yaml:"id" json:"id"`
	BoardID              string     `yaml:"board_id" json:"board_id"`
	ColumnID             string     `yaml:"column_id" json:"column_id"`
	Title                string     `yaml:"title" json:"title"`
	Status               Status     `yaml:"status" json:"status"`
	Priority             *int       `yaml:"priority,omitempty" json:"priority,omitempty"`
	DependsOn            []string   `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	RequiredCapabilities []string   `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`
	LeasedAt             *time.Time `yaml:"leased_at,omitempty" json:"leased_at,omitempty"`
	LeaseExpiresAt       *time.Time `yaml:"lease_expires_at,omitempty" json:"lease_expires_at,omitempty"`
	CreatedAt            time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `yaml:"updated_at" json:"updated_at"`
}

// LeaseExpired reports whether the task holds a lease that has lapsed at now.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.Status == StatusLeased && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
}

// Available reports whether the task can be leased at now: it is open, or its
// current lease has lapsed. An expired lease counts as available even though
// the persisted status still reads leased until the sweeper resets it.
func (t *Task) Available(now time.Time) bool {
	if t.Status == StatusOpen {
		return true
	}
	return t.LeaseExpired(now)
}

// Agent identifies a caller. Supplied on every request, never stored.
type Agent struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// HasCapabilities reports whether the agent's capability set covers required.
func (a Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}
