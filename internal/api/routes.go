package api

import (
	"net/http"
	"time"
)

const (
	serviceName        = "pipetrace"
	serviceVersion     = "1.0.0"
	healthCheckTimeout = 2 * time.Second
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// ArtifactPayload is the wire form of an artifact in query responses.
	ArtifactPayload struct {
		ID   int64  `json:"id"`
		Name string `json:"name,omitempty"`
		URI  string `json:"uri"`
	}

	// PipelineStatusResponse reports the aggregate and per-component status
	// of one pipeline.
	PipelineStatusResponse struct {
		Pipeline   string            `json:"pipeline"`
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}

	// ComponentsResponse lists the registered component ids.
	ComponentsResponse struct {
		Components []string `json:"components"`
	}

	// OutcomesResponse reports the output artifacts of one run, keyed by
	// component id.
	OutcomesResponse struct {
		Run      string                       `json:"run"`
		Outcomes map[string][]ArtifactPayload `json:"outcomes"`
	}

	// ProvenanceResponse reports where a component's artifacts were actually
	// computed, after following any cache references.
	ProvenanceResponse struct {
		Run       string            `json:"run"`
		Component string            `json:"component"`
		OriginRun string            `json:"originRun"`
		Artifacts []ArtifactPayload `json:"artifacts"`
	}

	// CachedResponse reports whether a component execution was a cache hit.
	CachedResponse struct {
		Run       string `json:"run"`
		Component string `json:"component"`
		Cached    bool   `json:"cached"`
	}

	// RunResponse is the wire form of a run context.
	RunResponse struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		RunID string `json:"runId,omitempty"`
	}

	// ConditionPayload is the wire form of a property condition in an
	// outcome query.
	ConditionPayload struct {
		Component    string `json:"component"`
		PropertyName string `json:"propertyName"`
		Value        string `json:"value"`
	}

	// OutcomeQueryRequest is the body of a POST /api/v1/outcomes request.
	// At most one of contextIds and contextNames may be set.
	OutcomeQueryRequest struct {
		ContextIDs       []int64            `json:"contextIds,omitempty"`
		ContextNames     []string           `json:"contextNames,omitempty"`
		OutputComponents []string           `json:"outputComponents,omitempty"`
		Conditions       []ConditionPayload `json:"conditions,omitempty"`
	}

	// OutcomeQueryResponse maps run context id to component id to output
	// artifact URIs.
	OutcomeQueryResponse struct {
		Results map[int64]map[string][]string `json:"results"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Lineage query endpoints
	mux.HandleFunc("GET /api/v1/components", s.handleComponents)
	mux.HandleFunc("GET /api/v1/pipelines/{pipeline}/status", s.handlePipelineStatus)
	mux.HandleFunc("GET /api/v1/runs", s.handleRunByID)
	mux.HandleFunc("GET /api/v1/runs/{run}/outcomes", s.handleRunOutcomes)
	mux.HandleFunc("GET /api/v1/runs/{run}/components/{component}/trace", s.handleTrace)
	mux.HandleFunc("GET /api/v1/runs/{run}/components/{component}/cached", s.handleCached)
	mux.HandleFunc("POST /api/v1/outcomes", s.handleOutcomeQuery)

	// Ingest endpoint
	mux.HandleFunc("POST /api/v1/events", s.handleIngestEvent)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and
// rate limiting. Only health endpoints belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.HandleFunc(route.Path, route.Handler)

		path := route.Path
		if i := lastSpace(path); i >= 0 {
			path = path[i+1:]
		}

		s.publicPaths[path] = struct{}{}
	}
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}

	return -1
}
