package board

import "time"

// HookSetting controls hook execution for one workflow point on a column.
// A point with no setting falls back to enabled with the server default
// timeout.
type HookSetting struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

type Column struct {
	ID        string                 `yaml:"id" json:"id"`
	Name      string                 `yaml:"name" json:"name"`
	Claimable bool                   `yaml:"claimable" json:"claimable"`
	Hooks     map[string]HookSetting `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

type Board struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Columns   []Column  `yaml:"columns" json:"columns"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Column looks up a column by id.
func (b *Board) Column(id string) (*Column, bool) {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i], true
		}
	}
	return nil, false
}

// HookSetting resolves the setting for a point on a column. The second return
// reports whether an explicit setting exists; absent means enabled with the
// default timeout.
func (c *Column) HookSetting(point string) (HookSetting, bool) {
	s, ok := c.Hooks[point]
	return s, ok
}

// DefaultBoardID is the board seeded on first run.
const DefaultBoardID = "default"

// DefaultBoard builds the seed board. Ready is the only claimable column.
func DefaultBoard(now time.Time) *Board {
	return &Board{
		ID:   DefaultBoardID,
		Name: "Default",
		Columns: []Column{
			{ID: "backlog", Name: "Backlog"},
			{ID: "ready", Name: "Ready", Claimable: true},
			{ID: "doing", Name: "Doing"},
			{ID: "review", Name: "Review"},
			{ID: "done", Name: "Done"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
