package claim

import (
	"context"
	"log/slog"
	"time"

	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/internal/telemetry"
)

// Sweeper periodically releases lapsed leases in one batch conditional
// update. It is idempotent and safe to run alongside claims and other
// sweeps: a row already reset simply no longer matches the predicate.
type Sweeper struct {
	tasks    task.Repository
	sink     telemetry.Sink
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(tasks task.Repository, sink telemetry.Sink, interval time.Duration) *Sweeper {
	return &Sweeper{tasks: tasks, sink: sink, interval: interval, now: time.Now}
}

// Start runs the sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "lease sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "lease sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "lease sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepOnce resets every task whose lease lapsed before now back to open and
// returns the released ids. Zero matches is a normal, silent outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	now := s.now()
	released, err := s.tasks.ConditionalUpdate(ctx,
		task.Where{ExpiredAt: &now},
		task.Patch{Status: task.StatusOpen, UpdatedAt: now},
	)
	if err != nil {
		return nil, err
	}
	for _, id := range released {
		s.sink.Emit(ctx, telemetry.EventLeaseReleased, id, map[string]string{
			"released_at": now.Format(time.RFC3339),
		})
	}
	return released, nil
}
