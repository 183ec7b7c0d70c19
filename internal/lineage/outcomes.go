package lineage

import (
	"context"
	"fmt"
	"sort"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

// RegisteredComponents returns the distinct component ids across every
// execution in the store, sorted for deterministic output.
func (r *Resolver) RegisteredComponents(ctx context.Context) ([]string, error) {
	executions, err := r.store.Executions(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(executions))

	for _, execution := range executions {
		seen[execution.ComponentID.String()] = struct{}{}
	}

	components := make([]string, 0, len(seen))
	for component := range seen {
		components = append(components, component)
	}

	sort.Strings(components)

	return components, nil
}

// OutcomesInContext returns the output artifacts recorded for each selected
// component within the named run, keyed by full component id.
//
// The artifacts are the ones directly attached to each execution's own output
// events. For cache-hit executions these are cache-reference artifacts, not
// traced originals; use OriginalArtifactsByComponent for provenance. An empty
// outputComponents slice selects every registered component. A run with no
// matching components yields an empty map, not an error.
func (r *Resolver) OutcomesInContext(
	ctx context.Context,
	runName string,
	outputComponents []string,
) (map[string][]metadata.Artifact, error) {
	runCtx, err := r.store.ContextByTypeAndName(ctx, metadata.ContextTypeRun, runName)
	if err != nil {
		return nil, err
	}

	return r.outcomesForContext(ctx, runCtx.ID, outputComponents)
}

// Outcomes resolves output artifact URIs for a set of runs selected by id, by
// name, or (neither given) every run context in the store, optionally narrowed
// by property conditions. The result maps context id to component id to URIs.
//
// Conditions intersect: a run qualifies only if, for each condition, some
// execution of the named component has the named property equal to the given
// value. A selected run with no matching components contributes an empty inner
// map rather than being omitted.
func (r *Resolver) Outcomes(ctx context.Context, query OutcomeQuery) (map[int64]map[string][]string, error) {
	if len(query.ContextIDs) > 0 && len(query.ContextNames) > 0 {
		return nil, fmt.Errorf("%w: got %d ids and %d names",
			ErrSelectorConflict, len(query.ContextIDs), len(query.ContextNames))
	}

	targetIDs, err := r.resolveTargetContexts(ctx, query)
	if err != nil {
		return nil, err
	}

	for _, condition := range query.Conditions {
		matching, err := r.contextIDsMatchingCondition(ctx, condition)
		if err != nil {
			return nil, err
		}

		kept := targetIDs[:0]

		for _, id := range targetIDs {
			if _, ok := matching[id]; ok {
				kept = append(kept, id)
			}
		}

		targetIDs = kept
	}

	result := make(map[int64]map[string][]string, len(targetIDs))

	for _, contextID := range targetIDs {
		outcomes, err := r.outcomesForContext(ctx, contextID, query.OutputComponents)
		if err != nil {
			return nil, err
		}

		uris := make(map[string][]string, len(outcomes))
		for component, artifacts := range outcomes {
			uris[component] = extractURIs(artifacts)
		}

		result[contextID] = uris
	}

	return result, nil
}

// ContextByRunID finds the run context carrying the given run_id property.
func (r *Resolver) ContextByRunID(ctx context.Context, runID string) (*metadata.Context, error) {
	contexts, err := r.store.ContextsByType(ctx, metadata.ContextTypeRun)
	if err != nil {
		return nil, err
	}

	for i := range contexts {
		if contexts[i].Properties[metadata.PropertyRunID] == runID {
			return &contexts[i], nil
		}
	}

	return nil, fmt.Errorf("run context with run_id %q: %w", runID, metadata.ErrNotFound)
}

// resolveTargetContexts resolves the selector of an OutcomeQuery to run context
// ids. Explicit ids are used as given; names filter the store's run contexts;
// no selector means every run context.
func (r *Resolver) resolveTargetContexts(ctx context.Context, query OutcomeQuery) ([]int64, error) {
	if len(query.ContextIDs) > 0 {
		ids := make([]int64, len(query.ContextIDs))
		copy(ids, query.ContextIDs)

		return ids, nil
	}

	contexts, err := r.store.ContextsByType(ctx, metadata.ContextTypeRun)
	if err != nil {
		return nil, err
	}

	if len(query.ContextNames) == 0 {
		ids := make([]int64, 0, len(contexts))
		for _, c := range contexts {
			ids = append(ids, c.ID)
		}

		return ids, nil
	}

	wanted := make(map[string]struct{}, len(query.ContextNames))
	for _, name := range query.ContextNames {
		wanted[name] = struct{}{}
	}

	ids := make([]int64, 0, len(query.ContextNames))

	for _, c := range contexts {
		if _, ok := wanted[c.Name]; ok {
			ids = append(ids, c.ID)
		}
	}

	return ids, nil
}

// contextIDsMatchingCondition returns the ids of the owning contexts of every
// execution satisfying the condition.
func (r *Resolver) contextIDsMatchingCondition(ctx context.Context, condition Condition) (map[int64]struct{}, error) {
	executions, err := r.store.Executions(ctx)
	if err != nil {
		return nil, err
	}

	matching := make(map[int64]struct{})

	for _, execution := range executions {
		if execution.ComponentID.String() != condition.Component {
			continue
		}

		if execution.Property(condition.PropertyName) != condition.Value {
			continue
		}

		contexts, err := r.store.ContextsByExecution(ctx, execution.ID)
		if err != nil {
			return nil, err
		}

		for i := range contexts {
			if contexts[i].TypeName == metadata.ContextTypeRun {
				matching[contexts[i].ID] = struct{}{}

				break
			}
		}
	}

	return matching, nil
}

// outcomesForContext collects the output artifacts of each selected component's
// execution within one context.
func (r *Resolver) outcomesForContext(
	ctx context.Context,
	contextID int64,
	outputComponents []string,
) (map[string][]metadata.Artifact, error) {
	if len(outputComponents) == 0 {
		registered, err := r.RegisteredComponents(ctx)
		if err != nil {
			return nil, err
		}

		outputComponents = registered
	}

	selected := make(map[string]struct{}, len(outputComponents))
	for _, component := range outputComponents {
		selected[component] = struct{}{}
	}

	executions, err := r.store.ExecutionsByContext(ctx, contextID)
	if err != nil {
		return nil, err
	}

	// Last execution wins on duplicate component ids, matching
	// ComponentsStatus semantics.
	executionByComponent := make(map[string]int64)

	for _, execution := range executions {
		component := execution.ComponentID.String()
		if _, ok := selected[component]; ok {
			executionByComponent[component] = execution.ID
		}
	}

	result := make(map[string][]metadata.Artifact, len(executionByComponent))

	for component, executionID := range executionByComponent {
		events, err := r.store.EventsByExecutionIDs(ctx, []int64{executionID})
		if err != nil {
			return nil, err
		}

		var artifactIDs []int64

		for _, event := range events {
			if event.IsOutput() {
				artifactIDs = append(artifactIDs, event.ArtifactID)
			}
		}

		artifacts, err := r.store.ArtifactsByID(ctx, artifactIDs)
		if err != nil {
			return nil, err
		}

		result[component] = artifacts
	}

	return result, nil
}

func extractURIs(artifacts []metadata.Artifact) []string {
	uris := make([]string, len(artifacts))
	for i, artifact := range artifacts {
		uris[i] = artifact.URI
	}

	return uris
}
