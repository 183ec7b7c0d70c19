package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/ingestion"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
	"github.com/pipetrace-io/pipetrace/migrations"
)

var (
	// ErrInvalidStateTransition is returned when a run event moves an
	// execution out of a terminal state.
	ErrInvalidStateTransition = errors.New("invalid state transition from terminal state")

	// ErrNilRunEvent is returned when a nil run event is recorded.
	ErrNilRunEvent = errors.New("run event cannot be nil")

	// Compile-time interface assertions. MetadataStore serves both the lineage
	// read path and the ingestion write path.
	_ metadata.Store     = (*MetadataStore)(nil)
	_ ingestion.Recorder = (*MetadataStore)(nil)
)

// MetadataStore is the SQL-backed metadata graph store. Queries are written
// with ? placeholders and rebound per dialect, so one implementation serves
// sqlite, mysql and postgres.
type MetadataStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewMetadataStore creates a metadata store over an established connection.
func NewMetadataStore(conn *Connection) (*MetadataStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MetadataStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the backing database is reachable.
func (s *MetadataStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// ContextByTypeAndName implements metadata.Store.
func (s *MetadataStore) ContextByTypeAndName(ctx context.Context, typeName, name string) (*metadata.Context, error) {
	contexts, err := s.queryContexts(ctx, "context.by_type_and_name",
		`SELECT id, type_name, name FROM contexts WHERE type_name = ? AND name = ?`, typeName, name)
	if err != nil {
		return nil, err
	}

	if len(contexts) == 0 {
		return nil, fmt.Errorf("context %s/%s: %w", typeName, name, metadata.ErrNotFound)
	}

	return &contexts[0], nil
}

// ContextsByType implements metadata.Store.
func (s *MetadataStore) ContextsByType(ctx context.Context, typeName string) ([]metadata.Context, error) {
	return s.queryContexts(ctx, "contexts.by_type",
		`SELECT id, type_name, name FROM contexts WHERE type_name = ? ORDER BY id`, typeName)
}

// Contexts implements metadata.Store.
func (s *MetadataStore) Contexts(ctx context.Context) ([]metadata.Context, error) {
	return s.queryContexts(ctx, "contexts.all",
		`SELECT id, type_name, name FROM contexts ORDER BY id`)
}

// ContextsByExecution implements metadata.Store.
func (s *MetadataStore) ContextsByExecution(ctx context.Context, executionID int64) ([]metadata.Context, error) {
	return s.queryContexts(ctx, "contexts.by_execution",
		`SELECT c.id, c.type_name, c.name
		   FROM contexts c
		   JOIN execution_contexts ec ON ec.context_id = c.id
		  WHERE ec.execution_id = ?
		  ORDER BY c.id`, executionID)
}

// Executions implements metadata.Store.
func (s *MetadataStore) Executions(ctx context.Context) ([]metadata.Execution, error) {
	return s.queryExecutions(ctx, "executions.all",
		`SELECT id, component_id, state FROM executions ORDER BY id`)
}

// ExecutionsByContext implements metadata.Store.
func (s *MetadataStore) ExecutionsByContext(ctx context.Context, contextID int64) ([]metadata.Execution, error) {
	return s.queryExecutions(ctx, "executions.by_context",
		`SELECT e.id, e.component_id, e.state
		   FROM executions e
		   JOIN execution_contexts ec ON ec.execution_id = e.id
		  WHERE ec.context_id = ?
		  ORDER BY e.id`, contextID)
}

// ExecutionsByID implements metadata.Store.
func (s *MetadataStore) ExecutionsByID(ctx context.Context, ids []int64) ([]metadata.Execution, error) {
	if len(ids) == 0 {
		return []metadata.Execution{}, nil
	}

	query := fmt.Sprintf(
		`SELECT id, component_id, state FROM executions WHERE id IN (%s) ORDER BY id`,
		inPlaceholders(len(ids)))

	return s.queryExecutions(ctx, "executions.by_id", query, int64Args(ids)...)
}

// EventsByExecutionIDs implements metadata.Store.
func (s *MetadataStore) EventsByExecutionIDs(ctx context.Context, executionIDs []int64) ([]metadata.Event, error) {
	if len(executionIDs) == 0 {
		return []metadata.Event{}, nil
	}

	query := fmt.Sprintf(
		`SELECT id, execution_id, artifact_id, type, occurred_at
		   FROM events WHERE execution_id IN (%s) ORDER BY id`,
		inPlaceholders(len(executionIDs)))

	return s.queryEvents(ctx, "events.by_execution_ids", query, int64Args(executionIDs)...)
}

// EventsByArtifactIDs implements metadata.Store.
func (s *MetadataStore) EventsByArtifactIDs(ctx context.Context, artifactIDs []int64) ([]metadata.Event, error) {
	if len(artifactIDs) == 0 {
		return []metadata.Event{}, nil
	}

	query := fmt.Sprintf(
		`SELECT id, execution_id, artifact_id, type, occurred_at
		   FROM events WHERE artifact_id IN (%s) ORDER BY id`,
		inPlaceholders(len(artifactIDs)))

	return s.queryEvents(ctx, "events.by_artifact_ids", query, int64Args(artifactIDs)...)
}

// ArtifactsByID implements metadata.Store.
func (s *MetadataStore) ArtifactsByID(ctx context.Context, ids []int64) ([]metadata.Artifact, error) {
	if len(ids) == 0 {
		return []metadata.Artifact{}, nil
	}

	query := fmt.Sprintf(
		`SELECT id, name, uri FROM artifacts WHERE id IN (%s) ORDER BY id`,
		inPlaceholders(len(ids)))

	rows, err := s.conn.db.QueryContext(ctx, s.conn.Rebind(query), int64Args(ids)...)
	if err != nil {
		return nil, metadata.NewStoreError("artifacts.by_id", err)
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]metadata.Artifact, 0, len(ids))

	for rows.Next() {
		var artifact metadata.Artifact
		if err := rows.Scan(&artifact.ID, &artifact.Name, &artifact.URI); err != nil {
			return nil, metadata.NewStoreError("artifacts.by_id", err)
		}

		artifacts = append(artifacts, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, metadata.NewStoreError("artifacts.by_id", err)
	}

	return artifacts, nil
}

// RecordRunEvent implements ingestion.Recorder. The whole event is recorded in
// one transaction: contexts are created on first sight, the execution is
// created or its state advanced, and input and output events are attached.
func (s *MetadataStore) RecordRunEvent(ctx context.Context, event *ingestion.RunEvent) error {
	if event == nil {
		return ErrNilRunEvent
	}

	if _, err := metadata.ParseComponentID(event.ComponentID); err != nil {
		return err
	}

	newState, err := metadata.ParseExecutionState(event.State)
	if err != nil {
		return err
	}

	tx, err := s.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return metadata.NewStoreError("record_run_event", err)
	}

	defer func() { _ = tx.Rollback() }()

	pipelineCtxID, err := s.ensureContext(ctx, tx, metadata.ContextTypePipeline, event.PipelineName, nil)
	if err != nil {
		return err
	}

	var runProps map[string]string
	if event.RunID != "" {
		runProps = map[string]string{metadata.PropertyRunID: event.RunID}
	}

	runCtxID, err := s.ensureContext(ctx, tx, metadata.ContextTypeRun, event.RunName, runProps)
	if err != nil {
		return err
	}

	executionID, err := s.ensureExecution(ctx, tx, runCtxID, pipelineCtxID, event.ComponentID, newState)
	if err != nil {
		return err
	}

	occurredAt := event.EventTime
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if err := s.attachEvents(ctx, tx, executionID, metadata.EventTypeInput, event.Inputs, occurredAt); err != nil {
		return err
	}

	if err := s.attachEvents(ctx, tx, executionID, metadata.EventTypeOutput, event.Outputs, occurredAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return metadata.NewStoreError("record_run_event", err)
	}

	s.logger.Debug("Recorded run event",
		slog.String("pipeline", event.PipelineName),
		slog.String("run", event.RunName),
		slog.String("component", event.ComponentID),
		slog.String("state", string(newState)),
	)

	return nil
}

func (s *MetadataStore) queryContexts(ctx context.Context, op, query string, args ...any) ([]metadata.Context, error) {
	rows, err := s.conn.db.QueryContext(ctx, s.conn.Rebind(query), args...)
	if err != nil {
		return nil, metadata.NewStoreError(op, err)
	}
	defer func() { _ = rows.Close() }()

	contexts := make([]metadata.Context, 0)

	for rows.Next() {
		var c metadata.Context
		if err := rows.Scan(&c.ID, &c.TypeName, &c.Name); err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		contexts = append(contexts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, metadata.NewStoreError(op, err)
	}

	if len(contexts) == 0 {
		return contexts, nil
	}

	ids := make([]int64, len(contexts))
	for i := range contexts {
		ids[i] = contexts[i].ID
	}

	properties, err := s.loadProperties(ctx, op, "context_properties", "context_id", ids)
	if err != nil {
		return nil, err
	}

	for i := range contexts {
		contexts[i].Properties = properties[contexts[i].ID]
	}

	return contexts, nil
}

func (s *MetadataStore) queryExecutions(ctx context.Context, op, query string, args ...any) ([]metadata.Execution, error) {
	rows, err := s.conn.db.QueryContext(ctx, s.conn.Rebind(query), args...)
	if err != nil {
		return nil, metadata.NewStoreError(op, err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]metadata.Execution, 0)

	for rows.Next() {
		var (
			id        int64
			component string
			state     string
		)

		if err := rows.Scan(&id, &component, &state); err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		componentID, err := metadata.ParseComponentID(component)
		if err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		parsedState, err := metadata.ParseExecutionState(state)
		if err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		executions = append(executions, metadata.Execution{
			ID:          id,
			ComponentID: componentID,
			State:       parsedState,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, metadata.NewStoreError(op, err)
	}

	if len(executions) == 0 {
		return executions, nil
	}

	ids := make([]int64, len(executions))
	for i := range executions {
		ids[i] = executions[i].ID
	}

	properties, err := s.loadProperties(ctx, op, "execution_properties", "execution_id", ids)
	if err != nil {
		return nil, err
	}

	for i := range executions {
		executions[i].Properties = properties[executions[i].ID]
	}

	return executions, nil
}

func (s *MetadataStore) queryEvents(ctx context.Context, op, query string, args ...any) ([]metadata.Event, error) {
	rows, err := s.conn.db.QueryContext(ctx, s.conn.Rebind(query), args...)
	if err != nil {
		return nil, metadata.NewStoreError(op, err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]metadata.Event, 0)

	for rows.Next() {
		var (
			event     metadata.Event
			eventType int
		)

		if err := rows.Scan(&event.ID, &event.ExecutionID, &event.ArtifactID, &eventType, &event.OccurredAt); err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		event.Type = metadata.EventType(eventType)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, metadata.NewStoreError(op, err)
	}

	return events, nil
}

// loadProperties batch-loads the property bags for a set of owner rows and
// returns them keyed by owner id. Owners without properties are absent from
// the result.
func (s *MetadataStore) loadProperties(
	ctx context.Context,
	op, table, ownerColumn string,
	ownerIDs []int64,
) (map[int64]map[string]string, error) {
	query := fmt.Sprintf(
		`SELECT %s, name, value FROM %s WHERE %s IN (%s)`,
		ownerColumn, table, ownerColumn, inPlaceholders(len(ownerIDs)))

	rows, err := s.conn.db.QueryContext(ctx, s.conn.Rebind(query), int64Args(ownerIDs)...)
	if err != nil {
		return nil, metadata.NewStoreError(op, err)
	}
	defer func() { _ = rows.Close() }()

	properties := make(map[int64]map[string]string)

	for rows.Next() {
		var (
			ownerID     int64
			name, value string
		)

		if err := rows.Scan(&ownerID, &name, &value); err != nil {
			return nil, metadata.NewStoreError(op, err)
		}

		if properties[ownerID] == nil {
			properties[ownerID] = make(map[string]string)
		}

		properties[ownerID][name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, metadata.NewStoreError(op, err)
	}

	return properties, nil
}

// ensureContext finds or creates a context and upserts its properties.
func (s *MetadataStore) ensureContext(
	ctx context.Context,
	tx *sql.Tx,
	typeName, name string,
	properties map[string]string,
) (int64, error) {
	var id int64

	err := tx.QueryRowContext(ctx,
		s.conn.Rebind(`SELECT id FROM contexts WHERE type_name = ? AND name = ?`),
		typeName, name).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = s.insertReturningID(ctx, tx,
			`INSERT INTO contexts (type_name, name) VALUES (?, ?)`, typeName, name)
		if err != nil {
			return 0, metadata.NewStoreError("ensure_context", err)
		}
	case err != nil:
		return 0, metadata.NewStoreError("ensure_context", err)
	}

	for propName, value := range properties {
		if _, err := tx.ExecContext(ctx,
			s.conn.Rebind(`DELETE FROM context_properties WHERE context_id = ? AND name = ?`),
			id, propName); err != nil {
			return 0, metadata.NewStoreError("ensure_context", err)
		}

		if _, err := tx.ExecContext(ctx,
			s.conn.Rebind(`INSERT INTO context_properties (context_id, name, value) VALUES (?, ?, ?)`),
			id, propName, value); err != nil {
			return 0, metadata.NewStoreError("ensure_context", err)
		}
	}

	return id, nil
}

// ensureExecution finds the execution of a component within a run context and
// advances its state, or creates it and links it to its run and pipeline
// contexts. Terminal states only transition to themselves.
func (s *MetadataStore) ensureExecution(
	ctx context.Context,
	tx *sql.Tx,
	runCtxID, pipelineCtxID int64,
	componentID string,
	newState metadata.ExecutionState,
) (int64, error) {
	var (
		id       int64
		rawState string
	)

	err := tx.QueryRowContext(ctx,
		s.conn.Rebind(`SELECT e.id, e.state
		   FROM executions e
		   JOIN execution_contexts ec ON ec.execution_id = e.id
		  WHERE ec.context_id = ? AND e.component_id = ?`),
		runCtxID, componentID).Scan(&id, &rawState)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = s.insertReturningID(ctx, tx,
			`INSERT INTO executions (component_id, state) VALUES (?, ?)`, componentID, string(newState))
		if err != nil {
			return 0, metadata.NewStoreError("ensure_execution", err)
		}

		for _, contextID := range []int64{runCtxID, pipelineCtxID} {
			if _, err := tx.ExecContext(ctx,
				s.conn.Rebind(`INSERT INTO execution_contexts (execution_id, context_id) VALUES (?, ?)`),
				id, contextID); err != nil {
				return 0, metadata.NewStoreError("ensure_execution", err)
			}
		}

		return id, nil
	case err != nil:
		return 0, metadata.NewStoreError("ensure_execution", err)
	}

	currentState, err := metadata.ParseExecutionState(rawState)
	if err != nil {
		return 0, metadata.NewStoreError("ensure_execution", err)
	}

	if currentState == newState {
		return id, nil
	}

	if currentState.Terminal() {
		return 0, fmt.Errorf("%w: %s -> %s for component %s",
			ErrInvalidStateTransition, currentState, newState, componentID)
	}

	if _, err := tx.ExecContext(ctx,
		s.conn.Rebind(`UPDATE executions SET state = ? WHERE id = ?`),
		string(newState), id); err != nil {
		return 0, metadata.NewStoreError("ensure_execution", err)
	}

	return id, nil
}

func (s *MetadataStore) attachEvents(
	ctx context.Context,
	tx *sql.Tx,
	executionID int64,
	eventType metadata.EventType,
	refs []ingestion.ArtifactRef,
	occurredAt time.Time,
) error {
	for _, ref := range refs {
		artifactID, err := s.ensureArtifact(ctx, tx, ref)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.conn.Rebind(`INSERT INTO events (execution_id, artifact_id, type, occurred_at) VALUES (?, ?, ?, ?)`),
			executionID, artifactID, int(eventType), occurredAt); err != nil {
			return metadata.NewStoreError("attach_events", err)
		}
	}

	return nil
}

// ensureArtifact resolves an artifact reference: a nonzero id must exist
// already, a zero id registers a new artifact.
func (s *MetadataStore) ensureArtifact(ctx context.Context, tx *sql.Tx, ref ingestion.ArtifactRef) (int64, error) {
	if ref.ID != 0 {
		var id int64

		err := tx.QueryRowContext(ctx,
			s.conn.Rebind(`SELECT id FROM artifacts WHERE id = ?`), ref.ID).Scan(&id)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("referenced artifact %d: %w", ref.ID, metadata.ErrNotFound)
		case err != nil:
			return 0, metadata.NewStoreError("ensure_artifact", err)
		}

		return id, nil
	}

	id, err := s.insertReturningID(ctx, tx,
		`INSERT INTO artifacts (name, uri) VALUES (?, ?)`, ref.Name, ref.URI)
	if err != nil {
		return 0, metadata.NewStoreError("ensure_artifact", err)
	}

	return id, nil
}

// insertReturningID runs an insert and returns the generated id. lib/pq does
// not support LastInsertId, so postgres goes through RETURNING.
func (s *MetadataStore) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.conn.dialect == migrations.DialectPostgres {
		var id int64

		err := tx.QueryRowContext(ctx, s.conn.Rebind(query+" RETURNING id"), args...).Scan(&id)

		return id, err
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return args
}
