package metadata

import (
	"errors"
	"testing"
)

func TestParseComponentID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ComponentID
		wantErr bool
	}{
		{
			name: "two segments",
			raw:  "pkg.trainer",
			want: ComponentID{Package: "pkg", Instance: "trainer"},
		},
		{
			name: "extra segments keep second as instance",
			raw:  "pipelines.loader.v2",
			want: ComponentID{Package: "pipelines", Instance: "loader"},
		},
		{
			name:    "missing instance",
			raw:     "loader",
			wantErr: true,
		},
		{
			name:    "empty package",
			raw:     ".trainer",
			wantErr: true,
		},
		{
			name:    "empty instance",
			raw:     "pkg.",
			wantErr: true,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseComponentID(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidComponentID) {
					t.Fatalf("ParseComponentID(%q) error = %v, want ErrInvalidComponentID", tt.raw, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("ParseComponentID(%q) unexpected error: %v", tt.raw, err)
			}

			if got != tt.want {
				t.Errorf("ParseComponentID(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestComponentIDString(t *testing.T) {
	id := ComponentID{Package: "pkg", Instance: "trainer"}
	if got := id.String(); got != "pkg.trainer" {
		t.Errorf("String() = %q, want %q", got, "pkg.trainer")
	}
}

func TestParseExecutionState(t *testing.T) {
	for _, valid := range []string{"running", "complete", "cached", "failed"} {
		state, err := ParseExecutionState(valid)
		if err != nil {
			t.Errorf("ParseExecutionState(%q) unexpected error: %v", valid, err)
		}

		if string(state) != valid {
			t.Errorf("ParseExecutionState(%q) = %q", valid, state)
		}
	}

	if _, err := ParseExecutionState("succeeded"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ParseExecutionState(%q) error = %v, want ErrInvalidState", "succeeded", err)
	}
}

func TestExecutionStateTerminal(t *testing.T) {
	tests := []struct {
		state ExecutionState
		want  bool
	}{
		{StateRunning, false},
		{StateComplete, true},
		{StateCached, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestEventIsOutput(t *testing.T) {
	output := Event{Type: EventTypeOutput}
	if !output.IsOutput() {
		t.Error("output event not recognized")
	}

	input := Event{Type: EventTypeInput}
	if input.IsOutput() {
		t.Error("input event reported as output")
	}
}

func TestExecutionProperty(t *testing.T) {
	execution := Execution{
		ComponentID: ComponentID{Package: "steps", Instance: "trainer"},
		State:       StateComplete,
		Properties:  map[string]string{"learning_rate": "0.01"},
	}

	tests := []struct {
		name     string
		property string
		want     string
	}{
		{"bag property", "learning_rate", "0.01"},
		{"state answers from typed field", PropertyState, "complete"},
		{"component id answers from typed field", PropertyComponentID, "steps.trainer"},
		{"absent property", "epochs", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := execution.Property(tt.property); got != tt.want {
				t.Errorf("Property(%q) = %q, want %q", tt.property, got, tt.want)
			}
		})
	}

	// Typed fields win even with a nil bag.
	bare := Execution{ComponentID: ComponentID{Package: "steps", Instance: "loader"}, State: StateCached}
	if got := bare.Property(PropertyState); got != "cached" {
		t.Errorf("Property(state) on bagless execution = %q, want %q", got, "cached")
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("contexts", cause)

	if !errors.Is(err, cause) {
		t.Error("StoreError does not unwrap to its cause")
	}

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatal("error is not a *StoreError")
	}

	if storeErr.Op != "contexts" {
		t.Errorf("Op = %q, want %q", storeErr.Op, "contexts")
	}

	if NewStoreError("contexts", nil) != nil {
		t.Error("NewStoreError(nil) should be nil")
	}
}
