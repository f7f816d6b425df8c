package telemetry

import (
	"context"
	"log/slog"

	"github.com/claimboard/claimboard/internal/eventbus"
)

// Event names emitted by the coordination and hook engines.
const (
	EventTaskClaimed   = "task_claimed"
	EventTaskUnclaimed = "task_unclaimed"
	EventTaskCompleted = "task_completed"
	EventTaskMoved     = "task_moved"
	EventLeaseReleased = "lease_released"
	EventHookExecuted  = "hook_executed"
	EventClaimConflict = "claim_conflict"
)

// Sink receives telemetry events. Implementations must be safe for
// concurrent use and must not block the caller.
type Sink interface {
	Emit(ctx context.Context, name string, resourceID string, metadata map[string]string)
}

// BusSink logs every event and fans it out on the event bus.
type BusSink struct {
	bus *eventbus.Bus
}

func NewBusSink(bus *eventbus.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Emit(ctx context.Context, name string, resourceID string, metadata map[string]string) {
	attrs := make([]any, 0, 2+2*len(metadata))
	attrs = append(attrs, slog.String("event", name), slog.String("resource_id", resourceID))
	for k, v := range metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	slog.InfoContext(ctx, "telemetry", attrs...)
	s.bus.PublishNew(name, resourceID, metadata)
}

// NopSink discards events. Used in tests.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, string, map[string]string) {}
