package domain

import "context"

// SnapshotProvider returns the most recently updated records, newest first.
type SnapshotProvider interface {
	FetchRecent(ctx context.Context, limit int) ([]Record, error)
}

// ChangeSink receives decoded change events in arrival order.
type ChangeSink interface {
	HandleChange(ctx context.Context, ev ChangeEvent)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, ev ChangeEvent)

func (f ChangeSinkFunc) HandleChange(ctx context.Context, ev ChangeEvent) { f(ctx, ev) }
