// Package ingestion turns pipeline run events into metadata graph records.
//
// A run event reports the state of one component execution within one
// pipeline run, together with the artifacts it consumed and produced. Events
// arrive over Kafka or through the HTTP ingest endpoint; both paths validate
// and record through the same Recorder interface.
package ingestion

import (
	"time"
)

type (
	// ArtifactRef identifies an artifact consumed or produced by an execution.
	// A nonzero ID references an artifact already recorded by an earlier run;
	// cached executions report their outputs this way so provenance can be
	// traced back to the producing execution. A zero ID registers a new
	// artifact from Name and URI.
	ArtifactRef struct {
		ID   int64  `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
		URI  string `json:"uri,omitempty"`
	}

	// RunEvent reports the state of one component execution within a pipeline
	// run. Repeated events for the same run and component update the recorded
	// execution; the first event creates it.
	RunEvent struct {
		EventTime    time.Time     `json:"eventTime"`
		PipelineName string        `json:"pipelineName"`
		RunName      string        `json:"runName"`
		RunID        string        `json:"runId,omitempty"`
		ComponentID  string        `json:"componentId"`
		State        string        `json:"state"`
		Inputs       []ArtifactRef `json:"inputs,omitempty"`
		Outputs      []ArtifactRef `json:"outputs,omitempty"`
	}
)
