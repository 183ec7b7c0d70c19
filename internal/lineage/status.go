package lineage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

// ComponentsStatus returns the state of every component recorded for the named
// pipeline, keyed by full component id ("<package>.<instance>").
//
// Duplicate component ids are not expected but tolerated: the last execution in
// backend iteration order wins.
func (r *Resolver) ComponentsStatus(ctx context.Context, pipelineName string) (map[string]metadata.ExecutionState, error) {
	pipelineCtx, err := r.store.ContextByTypeAndName(ctx, metadata.ContextTypePipeline, pipelineName)
	if err != nil {
		return nil, err
	}

	executions, err := r.store.ExecutionsByContext(ctx, pipelineCtx.ID)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]metadata.ExecutionState, len(executions))

	for _, execution := range executions {
		component := execution.ComponentID.String()
		if _, dup := statuses[component]; dup {
			r.logger.Warn("Duplicate component id in pipeline context, last execution wins",
				slog.String("pipeline", pipelineName),
				slog.String("component", component),
			)
		}

		statuses[component] = execution.State
	}

	return statuses, nil
}

// PipelineStatus aggregates component states for the named pipeline. It returns
// StatusSucceeded only when every component state is complete or cached; any
// other state (running, failed) yields StatusRunning.
func (r *Resolver) PipelineStatus(ctx context.Context, pipelineName string) (PipelineStatus, error) {
	statuses, err := r.ComponentsStatus(ctx, pipelineName)
	if err != nil {
		return "", err
	}

	for _, state := range statuses {
		if state != metadata.StateComplete && state != metadata.StateCached {
			return StatusRunning, nil
		}
	}

	return StatusSucceeded, nil
}

// IsComponentCached reports whether the execution of the component with the
// given instance name inside the named run finished as a cache hit. A component
// absent from the run reports false without error.
func (r *Resolver) IsComponentCached(ctx context.Context, runName, componentInstance string) (bool, error) {
	execution, err := r.executionByComponentInstance(ctx, runName, componentInstance)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	return execution.State == metadata.StateCached, nil
}
