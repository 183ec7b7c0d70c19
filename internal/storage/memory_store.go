package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipetrace-io/pipetrace/internal/ingestion"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

// Compile-time interface assertions, mirroring the SQL store.
var (
	_ metadata.Store     = (*MemoryStore)(nil)
	_ ingestion.Recorder = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory metadata graph store. It backs unit tests and
// the single-process dev mode; all reads return copies so callers can never
// mutate shared state.
type MemoryStore struct {
	mu sync.RWMutex

	nextContextID   int64
	nextExecutionID int64
	nextArtifactID  int64
	nextEventID     int64

	contexts          []metadata.Context
	executions        []metadata.Execution
	executionContexts map[int64][]int64
	artifacts         []metadata.Artifact
	events            []metadata.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executionContexts: make(map[int64][]int64),
	}
}

// AddContext registers a context and returns its id. Intended for test
// fixtures and seeding.
func (s *MemoryStore) AddContext(typeName, name string, properties map[string]string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addContextLocked(typeName, name, properties)
}

// AddExecution registers an execution linked to the given contexts and
// returns its id.
func (s *MemoryStore) AddExecution(componentID metadata.ComponentID, state metadata.ExecutionState, contextIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addExecutionLocked(componentID, state, nil, contextIDs)
}

// AddExecutionWithProperties registers an execution with a property bag,
// linked to the given contexts, and returns its id.
func (s *MemoryStore) AddExecutionWithProperties(
	componentID metadata.ComponentID,
	state metadata.ExecutionState,
	properties map[string]string,
	contextIDs ...int64,
) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addExecutionLocked(componentID, state, properties, contextIDs)
}

// AddArtifact registers an artifact and returns its id.
func (s *MemoryStore) AddArtifact(name, uri string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addArtifactLocked(name, uri)
}

// AddEvent registers an event linking an execution to an artifact and returns
// its id.
func (s *MemoryStore) AddEvent(executionID, artifactID int64, eventType metadata.EventType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addEventLocked(executionID, artifactID, eventType, time.Now().UTC())
}

// HealthCheck implements ingestion.Recorder. The in-memory store is always
// healthy.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// ContextByTypeAndName implements metadata.Store.
func (s *MemoryStore) ContextByTypeAndName(_ context.Context, typeName, name string) (*metadata.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.contexts {
		if s.contexts[i].TypeName == typeName && s.contexts[i].Name == name {
			c := copyContext(s.contexts[i])

			return &c, nil
		}
	}

	return nil, fmt.Errorf("context %s/%s: %w", typeName, name, metadata.ErrNotFound)
}

// ContextsByType implements metadata.Store.
func (s *MemoryStore) ContextsByType(_ context.Context, typeName string) ([]metadata.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contexts := make([]metadata.Context, 0)

	for i := range s.contexts {
		if s.contexts[i].TypeName == typeName {
			contexts = append(contexts, copyContext(s.contexts[i]))
		}
	}

	return contexts, nil
}

// Contexts implements metadata.Store.
func (s *MemoryStore) Contexts(_ context.Context) ([]metadata.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contexts := make([]metadata.Context, 0, len(s.contexts))
	for i := range s.contexts {
		contexts = append(contexts, copyContext(s.contexts[i]))
	}

	return contexts, nil
}

// ContextsByExecution implements metadata.Store.
func (s *MemoryStore) ContextsByExecution(_ context.Context, executionID int64) ([]metadata.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contexts := make([]metadata.Context, 0)

	for _, contextID := range s.executionContexts[executionID] {
		for i := range s.contexts {
			if s.contexts[i].ID == contextID {
				contexts = append(contexts, copyContext(s.contexts[i]))

				break
			}
		}
	}

	return contexts, nil
}

// Executions implements metadata.Store.
func (s *MemoryStore) Executions(_ context.Context) ([]metadata.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]metadata.Execution, 0, len(s.executions))
	for i := range s.executions {
		executions = append(executions, copyExecution(s.executions[i]))
	}

	return executions, nil
}

// ExecutionsByContext implements metadata.Store.
func (s *MemoryStore) ExecutionsByContext(_ context.Context, contextID int64) ([]metadata.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]metadata.Execution, 0)

	for i := range s.executions {
		if s.executionLinkedLocked(s.executions[i].ID, contextID) {
			executions = append(executions, copyExecution(s.executions[i]))
		}
	}

	return executions, nil
}

// ExecutionsByID implements metadata.Store.
func (s *MemoryStore) ExecutionsByID(_ context.Context, ids []int64) ([]metadata.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	executions := make([]metadata.Execution, 0, len(ids))

	for i := range s.executions {
		if _, ok := wanted[s.executions[i].ID]; ok {
			executions = append(executions, copyExecution(s.executions[i]))
		}
	}

	return executions, nil
}

// EventsByExecutionIDs implements metadata.Store.
func (s *MemoryStore) EventsByExecutionIDs(_ context.Context, executionIDs []int64) ([]metadata.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(executionIDs))
	for _, id := range executionIDs {
		wanted[id] = struct{}{}
	}

	events := make([]metadata.Event, 0)

	for _, event := range s.events {
		if _, ok := wanted[event.ExecutionID]; ok {
			events = append(events, event)
		}
	}

	return events, nil
}

// EventsByArtifactIDs implements metadata.Store.
func (s *MemoryStore) EventsByArtifactIDs(_ context.Context, artifactIDs []int64) ([]metadata.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(artifactIDs))
	for _, id := range artifactIDs {
		wanted[id] = struct{}{}
	}

	events := make([]metadata.Event, 0)

	for _, event := range s.events {
		if _, ok := wanted[event.ArtifactID]; ok {
			events = append(events, event)
		}
	}

	return events, nil
}

// ArtifactsByID implements metadata.Store.
func (s *MemoryStore) ArtifactsByID(_ context.Context, ids []int64) ([]metadata.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	artifacts := make([]metadata.Artifact, 0, len(ids))

	for _, artifact := range s.artifacts {
		if _, ok := wanted[artifact.ID]; ok {
			artifacts = append(artifacts, artifact)
		}
	}

	return artifacts, nil
}

// RecordRunEvent implements ingestion.Recorder with the same semantics as the
// SQL store: contexts created on first sight, execution created or advanced,
// events attached.
func (s *MemoryStore) RecordRunEvent(_ context.Context, event *ingestion.RunEvent) error {
	if event == nil {
		return ErrNilRunEvent
	}

	componentID, err := metadata.ParseComponentID(event.ComponentID)
	if err != nil {
		return err
	}

	newState, err := metadata.ParseExecutionState(event.State)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pipelineCtxID := s.findOrAddContextLocked(metadata.ContextTypePipeline, event.PipelineName, nil)

	var runProps map[string]string
	if event.RunID != "" {
		runProps = map[string]string{metadata.PropertyRunID: event.RunID}
	}

	runCtxID := s.findOrAddContextLocked(metadata.ContextTypeRun, event.RunName, runProps)

	executionID, err := s.ensureExecutionLocked(runCtxID, pipelineCtxID, componentID, newState)
	if err != nil {
		return err
	}

	occurredAt := event.EventTime
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if err := s.attachEventsLocked(executionID, metadata.EventTypeInput, event.Inputs, occurredAt); err != nil {
		return err
	}

	return s.attachEventsLocked(executionID, metadata.EventTypeOutput, event.Outputs, occurredAt)
}

func (s *MemoryStore) addContextLocked(typeName, name string, properties map[string]string) int64 {
	s.nextContextID++

	s.contexts = append(s.contexts, metadata.Context{
		ID:         s.nextContextID,
		TypeName:   typeName,
		Name:       name,
		Properties: copyProperties(properties),
	})

	return s.nextContextID
}

func (s *MemoryStore) addExecutionLocked(
	componentID metadata.ComponentID,
	state metadata.ExecutionState,
	properties map[string]string,
	contextIDs []int64,
) int64 {
	s.nextExecutionID++

	s.executions = append(s.executions, metadata.Execution{
		ID:          s.nextExecutionID,
		ComponentID: componentID,
		State:       state,
		Properties:  copyProperties(properties),
	})

	s.executionContexts[s.nextExecutionID] = append([]int64(nil), contextIDs...)

	return s.nextExecutionID
}

func (s *MemoryStore) addArtifactLocked(name, uri string) int64 {
	s.nextArtifactID++

	s.artifacts = append(s.artifacts, metadata.Artifact{
		ID:   s.nextArtifactID,
		Name: name,
		URI:  uri,
	})

	return s.nextArtifactID
}

func (s *MemoryStore) addEventLocked(executionID, artifactID int64, eventType metadata.EventType, occurredAt time.Time) int64 {
	s.nextEventID++

	s.events = append(s.events, metadata.Event{
		ID:          s.nextEventID,
		ExecutionID: executionID,
		ArtifactID:  artifactID,
		Type:        eventType,
		OccurredAt:  occurredAt,
	})

	return s.nextEventID
}

func (s *MemoryStore) findOrAddContextLocked(typeName, name string, properties map[string]string) int64 {
	for i := range s.contexts {
		if s.contexts[i].TypeName == typeName && s.contexts[i].Name == name {
			for propName, value := range properties {
				if s.contexts[i].Properties == nil {
					s.contexts[i].Properties = make(map[string]string)
				}

				s.contexts[i].Properties[propName] = value
			}

			return s.contexts[i].ID
		}
	}

	return s.addContextLocked(typeName, name, properties)
}

func (s *MemoryStore) ensureExecutionLocked(
	runCtxID, pipelineCtxID int64,
	componentID metadata.ComponentID,
	newState metadata.ExecutionState,
) (int64, error) {
	for i := range s.executions {
		execution := &s.executions[i]
		if execution.ComponentID != componentID || !s.executionLinkedLocked(execution.ID, runCtxID) {
			continue
		}

		if execution.State == newState {
			return execution.ID, nil
		}

		if execution.State.Terminal() {
			return 0, fmt.Errorf("%w: %s -> %s for component %s",
				ErrInvalidStateTransition, execution.State, newState, componentID)
		}

		execution.State = newState

		return execution.ID, nil
	}

	return s.addExecutionLocked(componentID, newState, nil, []int64{runCtxID, pipelineCtxID}), nil
}

func (s *MemoryStore) attachEventsLocked(
	executionID int64,
	eventType metadata.EventType,
	refs []ingestion.ArtifactRef,
	occurredAt time.Time,
) error {
	for _, ref := range refs {
		artifactID := ref.ID
		if artifactID != 0 {
			if !s.artifactExistsLocked(artifactID) {
				return fmt.Errorf("referenced artifact %d: %w", artifactID, metadata.ErrNotFound)
			}
		} else {
			artifactID = s.addArtifactLocked(ref.Name, ref.URI)
		}

		s.addEventLocked(executionID, artifactID, eventType, occurredAt)
	}

	return nil
}

func (s *MemoryStore) artifactExistsLocked(id int64) bool {
	for _, artifact := range s.artifacts {
		if artifact.ID == id {
			return true
		}
	}

	return false
}

func (s *MemoryStore) executionLinkedLocked(executionID, contextID int64) bool {
	for _, linked := range s.executionContexts[executionID] {
		if linked == contextID {
			return true
		}
	}

	return false
}

func copyContext(c metadata.Context) metadata.Context {
	c.Properties = copyProperties(c.Properties)

	return c
}

func copyExecution(e metadata.Execution) metadata.Execution {
	e.Properties = copyProperties(e.Properties)

	return e
}

func copyProperties(properties map[string]string) map[string]string {
	if properties == nil {
		return nil
	}

	copied := make(map[string]string, len(properties))
	for name, value := range properties {
		copied[name] = value
	}

	return copied
}
