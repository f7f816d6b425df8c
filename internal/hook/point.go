package hook

import "strings"

// Point is a workflow transition a command can be bound to. The blocking
// policy is fixed by the name: before_* points run synchronously and a
// failure aborts the transition, after_* points never fail the caller.
type Point string

const (
	BeforeClaim       Point = "before_claim"
	AfterClaim        Point = "after_claim"
	BeforeColumnEnter Point = "before_column_enter"
	AfterColumnEnter  Point = "after_column_enter"
	BeforeColumnExit  Point = "before_column_exit"
	AfterColumnExit   Point = "after_column_exit"
	BeforeComplete    Point = "before_complete"
	AfterComplete     Point = "after_complete"
	BeforeUnclaim     Point = "before_unclaim"
	AfterUnclaim      Point = "after_unclaim"
)

var points = map[Point]struct{}{
	BeforeClaim:       {},
	AfterClaim:        {},
	BeforeColumnEnter: {},
	AfterColumnEnter:  {},
	BeforeColumnExit:  {},
	AfterColumnExit:   {},
	BeforeComplete:    {},
	AfterComplete:     {},
	BeforeUnclaim:     {},
	AfterUnclaim:      {},
}

func (p Point) Valid() bool {
	_, ok := points[p]
	return ok
}

func (p Point) Blocking() bool {
	return strings.HasPrefix(string(p), "before_")
}
