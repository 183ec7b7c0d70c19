package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/ingestion"
	"github.com/pipetrace-io/pipetrace/internal/lineage"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.recorder.HealthCheck(ctx); err != nil {
		s.logger.Warn("Readiness check failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusServiceUnavailable, HealthStatus{
			Status:      "unavailable",
			ServiceName: serviceName,
			Version:     serviceVersion,
		})

		return
	}

	s.writeJSON(w, http.StatusOK, HealthStatus{
		Status:      "ready",
		ServiceName: serviceName,
		Version:     serviceVersion,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)))
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	components, err := s.resolver.RegisteredComponents(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusOK, ComponentsResponse{Components: components})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	pipeline := r.PathValue("pipeline")

	statuses, err := s.resolver.ComponentsStatus(r.Context(), pipeline)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	status, err := s.resolver.PipelineStatus(r.Context(), pipeline)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	components := make(map[string]string, len(statuses))
	for component, state := range statuses {
		components[component] = string(state)
	}

	s.writeJSON(w, http.StatusOK, PipelineStatusResponse{
		Pipeline:   pipeline,
		Status:     string(status),
		Components: components,
	})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("runId query parameter is required"))

		return
	}

	runCtx, err := s.resolver.ContextByRunID(r.Context(), runID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusOK, RunResponse{
		ID:    runCtx.ID,
		Name:  runCtx.Name,
		RunID: runCtx.Properties[metadata.PropertyRunID],
	})
}

func (s *Server) handleRunOutcomes(w http.ResponseWriter, r *http.Request) {
	run := r.PathValue("run")

	components := config.ParseCommaSeparatedList(r.URL.Query().Get("components"))

	outcomes, err := s.resolver.OutcomesInContext(r.Context(), run, components)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	payload := make(map[string][]ArtifactPayload, len(outcomes))
	for component, artifacts := range outcomes {
		payload[component] = toArtifactPayloads(artifacts)
	}

	s.writeJSON(w, http.StatusOK, OutcomesResponse{Run: run, Outcomes: payload})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	run := r.PathValue("run")
	component := r.PathValue("component")

	provenance, err := s.resolver.OriginalArtifactsByComponent(r.Context(), run, component)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusOK, ProvenanceResponse{
		Run:       run,
		Component: component,
		OriginRun: provenance.ContextName,
		Artifacts: toArtifactPayloads(provenance.Artifacts),
	})
}

func (s *Server) handleCached(w http.ResponseWriter, r *http.Request) {
	run := r.PathValue("run")
	component := r.PathValue("component")

	cached, err := s.resolver.IsComponentCached(r.Context(), run, component)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusOK, CachedResponse{Run: run, Component: component, Cached: cached})
}

func (s *Server) handleOutcomeQuery(w http.ResponseWriter, r *http.Request) {
	var request OutcomeQueryRequest

	if err := decodeBody(w, r, s.config.MaxRequestSize, &request); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	query := lineage.OutcomeQuery{
		ContextIDs:       request.ContextIDs,
		ContextNames:     request.ContextNames,
		OutputComponents: request.OutputComponents,
	}

	for _, condition := range request.Conditions {
		query.Conditions = append(query.Conditions, lineage.Condition{
			Component:    condition.Component,
			PropertyName: condition.PropertyName,
			Value:        condition.Value,
		})
	}

	results, err := s.resolver.Outcomes(r.Context(), query)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusOK, OutcomeQueryResponse{Results: results})
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var event ingestion.RunEvent

	if err := decodeBody(w, r, s.config.MaxRequestSize, &event); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	if err := ingestion.Validate(&event); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	if err := s.recorder.RecordRunEvent(r.Context(), &event); err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxSize int64, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}

func toArtifactPayloads(artifacts []metadata.Artifact) []ArtifactPayload {
	payloads := make([]ArtifactPayload, len(artifacts))
	for i, artifact := range artifacts {
		payloads[i] = ArtifactPayload{ID: artifact.ID, Name: artifact.Name, URI: artifact.URI}
	}

	return payloads
}
