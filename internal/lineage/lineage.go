// Package lineage reconstructs pipeline execution lineage from the metadata
// graph: per-component status within a run, provenance of artifacts through
// cache-hit chains, and outcome queries across runs.
//
// The package is a pure read layer. It holds no state beyond a store handle and
// transient recursion state scoped to a single trace call, so a Resolver is
// safe for concurrent use.
package lineage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

const (
	// defaultMaxTraceDepth bounds the cache-chain walk. A chain longer than
	// this indicates a malformed graph rather than a legitimate cache history.
	defaultMaxTraceDepth = 64
)

var (
	// ErrSelectorConflict is returned when both context ids and context names
	// are supplied to Outcomes. The selectors are mutually exclusive.
	ErrSelectorConflict = errors.New("context ids and context names are mutually exclusive")

	// ErrTraceCycle is returned (wrapped in *TraceError) when the cache-chain
	// walk revisits an execution or exceeds the hop bound.
	ErrTraceCycle = errors.New("cache chain does not terminate")

	// ErrNoOutputEvent is returned (wrapped in *TraceError) when a cached
	// execution has no output event to follow, or the referenced artifact has
	// no producing event.
	ErrNoOutputEvent = errors.New("no output event recorded")

	// ErrNilExecution is returned when a nil execution is passed to the tracer.
	ErrNilExecution = errors.New("execution cannot be nil")

	// ErrNoStore is returned when a Resolver is constructed without a store.
	ErrNoStore = errors.New("metadata store cannot be nil")
)

type (
	// PipelineStatus is the aggregate status of one pipeline.
	PipelineStatus string

	// Provenance is the result of a cache-chain trace: the name of the run
	// context that actually computed the artifacts, and the artifact records
	// themselves.
	Provenance struct {
		ContextName string
		Artifacts   []metadata.Artifact
	}

	// Condition selects run contexts in which some execution of Component has
	// property PropertyName equal to Value. Multiple conditions are combined
	// with AND semantics.
	Condition struct {
		Component    string
		PropertyName string
		Value        string
	}

	// OutcomeQuery selects the runs and components for an Outcomes call.
	// At most one of ContextIDs and ContextNames may be set; leaving both empty
	// selects every run context in the store. Empty OutputComponents selects
	// every registered component.
	OutcomeQuery struct {
		ContextIDs       []int64
		ContextNames     []string
		OutputComponents []string
		Conditions       []Condition
	}

	// Resolver answers lineage queries against a metadata store.
	Resolver struct {
		store         metadata.Store
		logger        *slog.Logger
		maxTraceDepth int
	}

	// ResolverOption configures optional Resolver behavior.
	ResolverOption func(*Resolver)
)

// Aggregate pipeline statuses. A pipeline has Succeeded only when every
// component finished in complete or cached state; any running or failed
// component keeps it Running.
const (
	StatusRunning   PipelineStatus = "Running"
	StatusSucceeded PipelineStatus = "Succeeded"
)

// TraceError reports a cache-chain trace that cannot be completed because the
// graph is malformed: a cycle of cached executions, a chain exceeding the hop
// bound, or a missing output event where the state machine requires one.
type TraceError struct {
	ExecutionID int64
	Err         error
}

// Error implements the error interface.
func (e *TraceError) Error() string {
	return fmt.Sprintf("trace from execution %d: %v", e.ExecutionID, e.Err)
}

// Unwrap returns the underlying reason.
func (e *TraceError) Unwrap() error {
	return e.Err
}

// WithLogger sets the resolver logger. Defaults to a JSON handler on stdout at
// the level given by the LOG_LEVEL environment variable.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMaxTraceDepth overrides the cache-chain hop bound.
func WithMaxTraceDepth(depth int) ResolverOption {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxTraceDepth = depth
		}
	}
}

// NewResolver creates a lineage resolver over the given metadata store.
func NewResolver(store metadata.Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	r := &Resolver{
		store: store,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		maxTraceDepth: defaultMaxTraceDepth,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}
