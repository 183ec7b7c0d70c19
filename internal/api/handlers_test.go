package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pipetrace-io/pipetrace/internal/api/middleware"
	"github.com/pipetrace-io/pipetrace/internal/lineage"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

// seededStore builds a memory store with one pipeline and two runs. The
// trainer in run-b is a cache hit referencing the model produced in run-a.
func seededStore(t *testing.T) (*storage.MemoryStore, int64) {
	t.Helper()

	store := storage.NewMemoryStore()

	pipelineID := store.AddContext(metadata.ContextTypePipeline, "training", nil)
	runA := store.AddContext(metadata.ContextTypeRun, "run-a", map[string]string{
		metadata.PropertyRunID: "7d4a9b2c",
	})
	runB := store.AddContext(metadata.ContextTypeRun, "run-b", map[string]string{
		metadata.PropertyRunID: "1f8e3c5d",
	})

	loader := metadata.ComponentID{Package: "pipelines", Instance: "loader"}
	trainer := metadata.ComponentID{Package: "pipelines", Instance: "trainer"}

	dataset := store.AddArtifact("dataset", "s3://data/run-a.csv")
	model := store.AddArtifact("model", "s3://models/run-a")

	loaderExec := store.AddExecution(loader, metadata.StateComplete, runA, pipelineID)
	store.AddEvent(loaderExec, dataset, metadata.EventTypeOutput)

	trainerExec := store.AddExecution(trainer, metadata.StateComplete, runA, pipelineID)
	store.AddEvent(trainerExec, dataset, metadata.EventTypeInput)
	store.AddEvent(trainerExec, model, metadata.EventTypeOutput)

	cachedExec := store.AddExecution(trainer, metadata.StateCached, runB, pipelineID)
	store.AddEvent(cachedExec, model, metadata.EventTypeOutput)

	return store, runA
}

func newTestServer(t *testing.T, store *storage.MemoryStore, verifier middleware.TokenVerifier) *Server {
	t.Helper()

	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))

	resolver, err := lineage.NewResolver(store, lineage.WithLogger(discard))
	require.NoError(t, err)

	cfg := &ServerConfig{
		Port:               8080,
		Host:               "localhost",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		LogLevel:           slog.LevelError,
		MaxRequestSize:     defaultMaxRequestSize,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         defaultCORSMaxAge,
	}

	server := NewServer(cfg, resolver, store, verifier, nil)
	server.startTime = time.Now()

	return server
}

func doRequest(server *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, req)

	return recorder
}

func TestHealthEndpoints(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("ping", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/ping", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health reports service identity and uptime", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var health HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		require.Equal(t, "healthy", health.Status)
		require.Equal(t, serviceName, health.ServiceName)
		require.NotEmpty(t, health.Uptime)
	})

	t.Run("ready succeeds against a healthy store", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/ready", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown route returns problem json", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/nope", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})
}

func TestHandleComponents(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	rec := doRequest(server, http.MethodGet, "/api/v1/components", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ComponentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"pipelines.loader", "pipelines.trainer"}, resp.Components)
}

func TestHandlePipelineStatus(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("terminal pipeline reports succeeded", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/pipelines/training/status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PipelineStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "training", resp.Pipeline)
		require.Equal(t, string(lineage.StatusSucceeded), resp.Status)
		require.Equal(t, "complete", resp.Components["pipelines.loader"])
		require.Equal(t, "cached", resp.Components["pipelines.trainer"])
	})

	t.Run("unknown pipeline maps to 404", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/pipelines/missing/status", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})
}

func TestHandleRunByID(t *testing.T) {
	store, runA := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("resolves run by engine run id", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/runs?runId=7d4a9b2c", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, runA, resp.ID)
		require.Equal(t, "run-a", resp.Name)
		require.Equal(t, "7d4a9b2c", resp.RunID)
	})

	t.Run("missing query parameter maps to 400", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/runs", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run id maps to 404", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/runs?runId=deadbeef", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRunOutcomes(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	rec := doRequest(server, http.MethodGet, "/api/v1/runs/run-a/outcomes?components=pipelines.trainer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OutcomesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-a", resp.Run)
	require.Len(t, resp.Outcomes, 1)
	require.Len(t, resp.Outcomes["pipelines.trainer"], 1)
	require.Equal(t, "s3://models/run-a", resp.Outcomes["pipelines.trainer"][0].URI)
}

func TestHandleTrace(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("cache hit resolves to producing run", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/runs/run-b/components/trainer/trace", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ProvenanceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "run-a", resp.OriginRun)
		require.Len(t, resp.Artifacts, 1)
		require.Equal(t, "s3://models/run-a", resp.Artifacts[0].URI)
	})

	t.Run("unknown component maps to 404", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/runs/run-b/components/missing/trace", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCached(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	tests := []struct {
		name   string
		target string
		cached bool
	}{
		{"cache hit", "/api/v1/runs/run-b/components/trainer/cached", true},
		{"fresh execution", "/api/v1/runs/run-a/components/trainer/cached", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(server, http.MethodGet, tt.target, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp CachedResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tt.cached, resp.Cached)
		})
	}
}

func TestHandleOutcomeQuery(t *testing.T) {
	store, runA := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("query by run name", func(t *testing.T) {
		body := `{"contextNames":["run-a"],"outputComponents":["pipelines.trainer"]}`
		rec := doRequest(server, http.MethodPost, "/api/v1/outcomes", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp OutcomeQueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, []string{"s3://models/run-a"}, resp.Results[runA]["pipelines.trainer"])
	})

	t.Run("conflicting selectors map to 400", func(t *testing.T) {
		body := `{"contextIds":[1],"contextNames":["run-a"]}`
		rec := doRequest(server, http.MethodPost, "/api/v1/outcomes", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		rec := doRequest(server, http.MethodPost, "/api/v1/outcomes", `{"contextIds":`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleIngestEvent(t *testing.T) {
	store, _ := seededStore(t)
	server := newTestServer(t, store, nil)

	t.Run("valid event is accepted and queryable", func(t *testing.T) {
		body := `{
			"pipelineName": "training",
			"runName": "run-c",
			"runId": "9a1b2c3d",
			"componentId": "pipelines.loader",
			"state": "complete",
			"outputs": [{"name": "dataset", "uri": "s3://data/run-c.csv"}]
		}`

		rec := doRequest(server, http.MethodPost, "/api/v1/events", body, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = doRequest(server, http.MethodGet, "/api/v1/runs?runId=9a1b2c3d", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "run-c", resp.Name)
	})

	t.Run("terminal state regression maps to 409", func(t *testing.T) {
		body := `{
			"pipelineName": "training",
			"runName": "run-c",
			"componentId": "pipelines.loader",
			"state": "running"
		}`

		rec := doRequest(server, http.MethodPost, "/api/v1/events", body, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("event without pipeline name maps to 400", func(t *testing.T) {
		body := `{"runName": "run-c", "componentId": "pipelines.loader", "state": "complete"}`
		rec := doRequest(server, http.MethodPost, "/api/v1/events", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("undecodable body maps to 400", func(t *testing.T) {
		rec := doRequest(server, http.MethodPost, "/api/v1/events", "not json", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthenticationMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-token"), bcrypt.MinCost)
	require.NoError(t, err)

	verifier := middleware.NewStaticTokenVerifier(map[string]string{"ci": string(hash)})

	store, _ := seededStore(t)
	server := newTestServer(t, store, verifier)

	t.Run("protected route rejects missing token", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/v1/components", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("protected route rejects invalid token", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer wrong"}}
		rec := doRequest(server, http.MethodGet, "/api/v1/components", "", header)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("protected route accepts valid token", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer s3cret-token"}}
		rec := doRequest(server, http.MethodGet, "/api/v1/components", "", header)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health endpoints stay public", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/ping", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
