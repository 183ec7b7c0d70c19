package ingestion

import (
	"context"
)

// Recorder is the write interface the ingestion paths record through. The
// storage package provides the SQL implementation; tests use the in-memory
// store.
type Recorder interface {
	// RecordRunEvent validates nothing; callers validate first. It creates or
	// updates the execution the event describes, links it to its pipeline and
	// run contexts, and attaches input and output events. The operation is
	// atomic per event.
	RecordRunEvent(ctx context.Context, event *RunEvent) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}
