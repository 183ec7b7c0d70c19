package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

func mustResolver(t *testing.T, store metadata.Store, opts ...ResolverOption) *Resolver {
	t.Helper()

	resolver, err := NewResolver(store, opts...)
	require.NoError(t, err)

	return resolver
}

// seedRun registers a pipeline context, a run context and one execution per
// component, linked to both. Returns the pipeline and run context ids.
func seedRun(
	store *storage.MemoryStore,
	pipelineName, runName string,
	states map[string]metadata.ExecutionState,
) (pipelineID, runID int64) {
	pipelineID = store.AddContext(metadata.ContextTypePipeline, pipelineName, nil)
	runID = store.AddContext(metadata.ContextTypeRun, runName, nil)

	for component, state := range states {
		id, err := metadata.ParseComponentID(component)
		if err != nil {
			panic(err)
		}

		store.AddExecution(id, state, runID, pipelineID)
	}

	return pipelineID, runID
}

func TestComponentsStatus(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	seedRun(store, "training", "training-run-1", map[string]metadata.ExecutionState{
		"steps.loader":  metadata.StateComplete,
		"steps.trainer": metadata.StateRunning,
	})

	resolver := mustResolver(t, store)

	statuses, err := resolver.ComponentsStatus(ctx, "training")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.Equal(t, metadata.StateComplete, statuses["steps.loader"])
	require.Equal(t, metadata.StateRunning, statuses["steps.trainer"])
}

func TestComponentsStatusUnknownPipeline(t *testing.T) {
	resolver := mustResolver(t, storage.NewMemoryStore())

	_, err := resolver.ComponentsStatus(context.Background(), "missing")
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestComponentsStatusDuplicateComponentLastWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	pipelineID := store.AddContext(metadata.ContextTypePipeline, "training", nil)
	runID := store.AddContext(metadata.ContextTypeRun, "training-run-1", nil)

	trainer := metadata.ComponentID{Package: "steps", Instance: "trainer"}
	store.AddExecution(trainer, metadata.StateFailed, runID, pipelineID)
	store.AddExecution(trainer, metadata.StateComplete, runID, pipelineID)

	resolver := mustResolver(t, store)

	statuses, err := resolver.ComponentsStatus(ctx, "training")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, metadata.StateComplete, statuses["steps.trainer"])
}

func TestPipelineStatus(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]metadata.ExecutionState
		want   PipelineStatus
	}{
		{
			name: "all complete",
			states: map[string]metadata.ExecutionState{
				"steps.loader":  metadata.StateComplete,
				"steps.trainer": metadata.StateComplete,
			},
			want: StatusSucceeded,
		},
		{
			name: "complete and cached",
			states: map[string]metadata.ExecutionState{
				"steps.loader":  metadata.StateCached,
				"steps.trainer": metadata.StateComplete,
			},
			want: StatusSucceeded,
		},
		{
			name: "one still running",
			states: map[string]metadata.ExecutionState{
				"steps.loader":  metadata.StateComplete,
				"steps.trainer": metadata.StateRunning,
			},
			want: StatusRunning,
		},
		{
			name: "one failed",
			states: map[string]metadata.ExecutionState{
				"steps.loader":  metadata.StateComplete,
				"steps.trainer": metadata.StateFailed,
			},
			want: StatusRunning,
		},
		{
			name:   "no executions",
			states: map[string]metadata.ExecutionState{},
			want:   StatusSucceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			seedRun(store, "training", "training-run-1", tt.states)

			resolver := mustResolver(t, store)

			status, err := resolver.PipelineStatus(context.Background(), "training")
			require.NoError(t, err)
			require.Equal(t, tt.want, status)
		})
	}
}

func TestIsComponentCached(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	seedRun(store, "training", "training-run-1", map[string]metadata.ExecutionState{
		"steps.loader":  metadata.StateCached,
		"steps.trainer": metadata.StateComplete,
	})

	resolver := mustResolver(t, store)

	cached, err := resolver.IsComponentCached(ctx, "training-run-1", "loader")
	require.NoError(t, err)
	require.True(t, cached)

	cached, err = resolver.IsComponentCached(ctx, "training-run-1", "trainer")
	require.NoError(t, err)
	require.False(t, cached)

	// Absent component reports false without error.
	cached, err = resolver.IsComponentCached(ctx, "training-run-1", "evaluator")
	require.NoError(t, err)
	require.False(t, cached)
}

func TestNewResolverRequiresStore(t *testing.T) {
	_, err := NewResolver(nil)
	require.ErrorIs(t, err, ErrNoStore)
}
