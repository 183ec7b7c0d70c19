package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

var (
	// ErrEventNil is returned when a nil event is validated.
	ErrEventNil = errors.New("run event cannot be nil")

	// ErrPipelineNameEmpty is returned when the event names no pipeline.
	ErrPipelineNameEmpty = errors.New("pipeline name cannot be empty")

	// ErrRunNameEmpty is returned when the event names no run.
	ErrRunNameEmpty = errors.New("run name cannot be empty")

	// ErrArtifactRefEmpty is returned when an artifact reference carries
	// neither an id nor a uri.
	ErrArtifactRefEmpty = errors.New("artifact reference requires an id or a uri")

	// ErrCachedWithoutReference is returned when a cached event reports a new
	// output artifact instead of referencing the original.
	ErrCachedWithoutReference = errors.New("cached execution outputs must reference existing artifacts")
)

// Validate checks a run event before it is recorded: names present, component
// id and state well formed, artifact references resolvable, and cache-hit
// outputs pointing at already recorded artifacts.
func Validate(event *RunEvent) error {
	if event == nil {
		return ErrEventNil
	}

	if strings.TrimSpace(event.PipelineName) == "" {
		return ErrPipelineNameEmpty
	}

	if strings.TrimSpace(event.RunName) == "" {
		return ErrRunNameEmpty
	}

	if _, err := metadata.ParseComponentID(event.ComponentID); err != nil {
		return err
	}

	state, err := metadata.ParseExecutionState(event.State)
	if err != nil {
		return err
	}

	for i, ref := range event.Inputs {
		if err := validateRef(ref); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i, ref := range event.Outputs {
		if err := validateRef(ref); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}

		if state == metadata.StateCached && ref.ID == 0 {
			return fmt.Errorf("output %d: %w", i, ErrCachedWithoutReference)
		}
	}

	return nil
}

func validateRef(ref ArtifactRef) error {
	if ref.ID == 0 && strings.TrimSpace(ref.URI) == "" {
		return ErrArtifactRefEmpty
	}

	return nil
}
