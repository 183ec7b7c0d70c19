// Package metadata defines the typed domain model for the pipeline metadata graph.
//
// The graph is produced by an external execution engine and consumed read-only by
// the lineage core: contexts group executions into pipelines and runs, executions
// record one component run each, artifacts are immutable materialized outputs, and
// events are typed edges linking executions to artifacts.
package metadata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a named context, execution, or artifact does
	// not exist in the metadata graph.
	ErrNotFound = errors.New("metadata entity not found")

	// ErrInvalidComponentID is returned when a component id does not follow the
	// "<package>.<instance>" format.
	ErrInvalidComponentID = errors.New("invalid component id: expected <package>.<instance>")

	// ErrInvalidState is returned when an execution state string is not a member
	// of the execution state machine.
	ErrInvalidState = errors.New("invalid execution state")
)

// Context type names used by the execution engine. The two namespaces never
// collide: a pipeline context and a run context may share a display name but
// differ in type.
const (
	ContextTypePipeline = "pipeline"
	ContextTypeRun      = "run"
)

// Well-known property names read by the lineage core.
const (
	PropertyComponentID  = "component_id"
	PropertyState        = "state"
	PropertyRunID        = "run_id"
	PropertyPipelineName = "pipeline_name"
)

type (
	// ExecutionState is the state of a component execution as recorded by the
	// execution engine. The core reads and branches on states, it never
	// transitions them.
	//
	// State machine: running -> {complete, cached, failed}. The three
	// non-running states are terminal.
	ExecutionState string

	// EventType is the numeric edge type linking an execution to an artifact.
	// Only output edges participate in provenance queries; all other codes are
	// ignored.
	EventType int

	// ComponentID is the parsed form of the dot-delimited component identifier
	// carried in the execution property bag ("<package>.<instance>"). The
	// instance segment is the human-readable name used for matching.
	ComponentID struct {
		Package  string
		Instance string
	}

	// Context is a named grouping node in the metadata graph, either a pipeline
	// or a run. Identity is the opaque store-assigned id.
	Context struct {
		ID         int64
		TypeName   string
		Name       string
		Properties map[string]string
	}

	// Execution records one component run within a context. ComponentID and
	// State are the typed projections of the property bag validated at the
	// adapter boundary; Properties retains the full bag for condition queries
	// over arbitrary property names.
	Execution struct {
		ID          int64
		ComponentID ComponentID
		State       ExecutionState
		Properties  map[string]string
	}

	// Artifact is an immutable output unit. An artifact is produced by exactly
	// one execution via an output event but may be referenced as input by many
	// downstream executions. URIs are not guaranteed unique across artifacts.
	Artifact struct {
		ID   int64
		Name string
		URI  string
	}

	// Event is a directed edge between an execution and an artifact.
	Event struct {
		ID          int64
		ExecutionID int64
		ArtifactID  int64
		Type        EventType
		OccurredAt  time.Time
	}
)

// Execution states recorded by the execution engine.
const (
	StateRunning  ExecutionState = "running"
	StateComplete ExecutionState = "complete"
	StateCached   ExecutionState = "cached"
	StateFailed   ExecutionState = "failed"
)

// Event type codes. Output (4) marks the produced-by edge; the remaining codes
// describe inputs and declared relations.
const (
	EventTypeUnknown       EventType = 0
	EventTypeDeclaredInput EventType = 2
	EventTypeInput         EventType = 3
	EventTypeOutput        EventType = 4
)

// ParseExecutionState validates a state string against the execution state
// machine.
func ParseExecutionState(s string) (ExecutionState, error) {
	switch state := ExecutionState(s); state {
	case StateRunning, StateComplete, StateCached, StateFailed:
		return state, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Terminal reports whether the state is terminal (complete, cached, or failed).
func (s ExecutionState) Terminal() bool {
	return s == StateComplete || s == StateCached || s == StateFailed
}

// ParseComponentID parses a dot-delimited component identifier. The identifier
// must have at least two segments; the second segment is the instance name.
func ParseComponentID(raw string) (ComponentID, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ComponentID{}, fmt.Errorf("%w: %q", ErrInvalidComponentID, raw)
	}

	return ComponentID{Package: parts[0], Instance: parts[1]}, nil
}

// String returns the wire form "<package>.<instance>".
func (c ComponentID) String() string {
	return c.Package + "." + c.Instance
}

// IsOutput reports whether the event marks a produced-by edge.
func (e Event) IsOutput() bool {
	return e.Type == EventTypeOutput
}

// Property returns a property value from the execution's property bag. The
// empty string doubles as the not-present value; the execution engine never
// writes empty property values.
//
// ComponentID and state are promoted out of the bag into typed fields at the
// adapter boundary and may not be present in Properties, so lookups under
// their well-known names answer from the typed fields.
func (e Execution) Property(name string) string {
	switch name {
	case PropertyComponentID:
		return e.ComponentID.String()
	case PropertyState:
		return string(e.State)
	default:
		return e.Properties[name]
	}
}

// StoreError wraps a backend communication failure (timeout, connection error,
// malformed row). It is always surfaced to callers and never retried by the
// lineage core; retry policy belongs to the backend client.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("metadata store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError for the given operation. Returns nil
// when err is nil so call sites can wrap unconditionally.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &StoreError{Op: op, Err: err}
}
