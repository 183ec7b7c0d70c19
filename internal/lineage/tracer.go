package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

// OriginalArtifacts walks backward from an execution to the run that actually
// computed its output.
//
// For a non-cached execution the result is its own run context and the full
// records of the artifacts attached to its output events. For a cached
// execution the recorded output artifact is only a reference to an artifact
// produced elsewhere; the tracer follows that reference, hop by hop through any
// intermediate cache hits, to the originating execution. When an execution
// produced multiple output events the last one collected is the provenance
// reference for the hop.
//
// The walk is bounded by a visited set and a maximum hop count; a cycle of
// cached executions or a cached execution with nothing to follow yields a
// *TraceError instead of looping.
func (r *Resolver) OriginalArtifacts(ctx context.Context, execution *metadata.Execution) (*Provenance, error) {
	if execution == nil {
		return nil, ErrNilExecution
	}

	visited := make(map[int64]struct{})

	return r.trace(ctx, execution, visited)
}

// OriginalArtifactsByComponent locates the execution of the component with the
// given instance name inside the named run and traces it back to its original
// artifacts. Returns an error wrapping metadata.ErrNotFound when the run has no
// execution of that component.
func (r *Resolver) OriginalArtifactsByComponent(ctx context.Context, runName, componentInstance string) (*Provenance, error) {
	execution, err := r.executionByComponentInstance(ctx, runName, componentInstance)
	if err != nil {
		return nil, err
	}

	return r.OriginalArtifacts(ctx, execution)
}

func (r *Resolver) trace(ctx context.Context, execution *metadata.Execution, visited map[int64]struct{}) (*Provenance, error) {
	if _, seen := visited[execution.ID]; seen {
		return nil, &TraceError{ExecutionID: execution.ID, Err: ErrTraceCycle}
	}

	visited[execution.ID] = struct{}{}

	if len(visited) > r.maxTraceDepth {
		return nil, &TraceError{
			ExecutionID: execution.ID,
			Err:         fmt.Errorf("%w: exceeded %d hops", ErrTraceCycle, r.maxTraceDepth),
		}
	}

	events, err := r.store.EventsByExecutionIDs(ctx, []int64{execution.ID})
	if err != nil {
		return nil, err
	}

	var artifactIDs []int64

	for _, event := range events {
		if event.IsOutput() {
			artifactIDs = append(artifactIDs, event.ArtifactID)
		}
	}

	if execution.State == metadata.StateCached {
		return r.traceCacheReference(ctx, execution, artifactIDs, visited)
	}

	contexts, err := r.store.ContextsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	if len(contexts) == 0 {
		return nil, &TraceError{
			ExecutionID: execution.ID,
			Err:         fmt.Errorf("owning context: %w", metadata.ErrNotFound),
		}
	}

	artifacts, err := r.store.ArtifactsByID(ctx, artifactIDs)
	if err != nil {
		return nil, err
	}

	return &Provenance{ContextName: owningRunName(contexts), Artifacts: artifacts}, nil
}

// owningRunName prefers the run-typed context; executions are also linked to
// their pipeline context and backend ordering of the two is not fixed.
func owningRunName(contexts []metadata.Context) string {
	for i := range contexts {
		if contexts[i].TypeName == metadata.ContextTypeRun {
			return contexts[i].Name
		}
	}

	return contexts[0].Name
}

// traceCacheReference follows a cached execution's recorded artifact back to
// the execution that produced it and recurses from there.
func (r *Resolver) traceCacheReference(
	ctx context.Context,
	execution *metadata.Execution,
	artifactIDs []int64,
	visited map[int64]struct{},
) (*Provenance, error) {
	if len(artifactIDs) == 0 {
		return nil, &TraceError{ExecutionID: execution.ID, Err: ErrNoOutputEvent}
	}

	// Last output event wins as the provenance reference for this hop.
	reference := artifactIDs[len(artifactIDs)-1]

	events, err := r.store.EventsByArtifactIDs(ctx, []int64{reference})
	if err != nil {
		return nil, err
	}

	var producerID int64

	found := false

	for _, event := range events {
		// The cached execution's own output event also references the
		// artifact; only a foreign output event identifies the producer.
		if event.IsOutput() && event.ExecutionID != execution.ID {
			producerID = event.ExecutionID
			found = true

			break
		}
	}

	if !found {
		return nil, &TraceError{
			ExecutionID: execution.ID,
			Err:         fmt.Errorf("%w: artifact %d has no producing event", ErrNoOutputEvent, reference),
		}
	}

	producers, err := r.store.ExecutionsByID(ctx, []int64{producerID})
	if err != nil {
		return nil, err
	}

	if len(producers) == 0 {
		return nil, &TraceError{
			ExecutionID: execution.ID,
			Err:         fmt.Errorf("producing execution %d: %w", producerID, metadata.ErrNotFound),
		}
	}

	r.logger.Debug("Following cache reference",
		slog.Int64("execution_id", execution.ID),
		slog.Int64("artifact_id", reference),
		slog.Int64("producer_id", producerID),
	)

	return r.trace(ctx, &producers[0], visited)
}

// executionByComponentInstance finds the execution within the named run whose
// component id has the given instance name (the second dot-segment).
func (r *Resolver) executionByComponentInstance(
	ctx context.Context,
	runName, componentInstance string,
) (*metadata.Execution, error) {
	runCtx, err := r.store.ContextByTypeAndName(ctx, metadata.ContextTypeRun, runName)
	if err != nil {
		return nil, err
	}

	executions, err := r.store.ExecutionsByContext(ctx, runCtx.ID)
	if err != nil {
		return nil, err
	}

	for i := range executions {
		if executions[i].ComponentID.Instance == componentInstance {
			return &executions[i], nil
		}
	}

	return nil, fmt.Errorf("component %q in run %q: %w", componentInstance, runName, metadata.ErrNotFound)
}
