// Package metadata defines the typed domain model for the pipeline metadata graph.
package metadata

import "context"

// Store is the read-only capability contract over the metadata graph backend.
//
// This interface is the sole boundary between the lineage core and persisted
// state. It is intentionally read-only: all four entity kinds are created by
// the external execution engine (through the ingestion write path), and the
// lineage core only queries them.
//
// Design rationale:
//   - metadata.Store: read interface consumed by the lineage resolver
//   - ingestion.Recorder: write interface consumed by the ingestion path
//   - storage.MetadataStore / storage.InMemoryMetadataStore implement BOTH
//
// Contract, honored by every implementation:
//   - Multi-row operations return empty slices (never nil) when nothing
//     matches.
//   - ContextByTypeAndName returns an error wrapping ErrNotFound when no
//     context matches the (type, name) pair; callers must not assume a context
//     always exists.
//   - Backend communication failures are returned as *StoreError.
//   - All operations are idempotent queries, safe to retry by the caller.
type Store interface {
	// ContextByTypeAndName returns the single context with the given type and
	// name. Pipeline contexts use type "pipeline", run contexts use type "run".
	ContextByTypeAndName(ctx context.Context, typeName, name string) (*Context, error)

	// ContextsByType returns all contexts of the given type.
	ContextsByType(ctx context.Context, typeName string) ([]Context, error)

	// Contexts returns every context in the store.
	Contexts(ctx context.Context) ([]Context, error)

	// ContextsByExecution returns the contexts an execution belongs to. Order
	// follows backend iteration order; the first entry is treated as the owning
	// context by the cache-chain tracer.
	ContextsByExecution(ctx context.Context, executionID int64) ([]Context, error)

	// Executions returns every execution in the store.
	Executions(ctx context.Context) ([]Execution, error)

	// ExecutionsByContext returns the executions recorded within a context.
	ExecutionsByContext(ctx context.Context, contextID int64) ([]Execution, error)

	// ExecutionsByID returns the executions with the given ids. Unknown ids are
	// skipped, not errors.
	ExecutionsByID(ctx context.Context, ids []int64) ([]Execution, error)

	// EventsByExecutionIDs returns all events attached to the given executions.
	EventsByExecutionIDs(ctx context.Context, executionIDs []int64) ([]Event, error)

	// EventsByArtifactIDs returns all events referencing the given artifacts.
	EventsByArtifactIDs(ctx context.Context, artifactIDs []int64) ([]Event, error)

	// ArtifactsByID returns the artifacts with the given ids. Unknown ids are
	// skipped, not errors.
	ArtifactsByID(ctx context.Context, ids []int64) ([]Artifact, error)
}
