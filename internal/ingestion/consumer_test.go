package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

type fakeRecorder struct {
	events []*RunEvent
	err    error
}

func (f *fakeRecorder) RecordRunEvent(_ context.Context, event *RunEvent) error {
	if f.err != nil {
		return f.err
	}

	f.events = append(f.events, event)

	return nil
}

func (f *fakeRecorder) HealthCheck(_ context.Context) error {
	return nil
}

func testConsumer(recorder Recorder) *Consumer {
	return &Consumer{
		recorder: recorder,
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func TestConsumerConfigValidate(t *testing.T) {
	cfg := &ConsumerConfig{Brokers: []string{"localhost:9092"}, Topic: "pipetrace.run-events"}
	require.NoError(t, cfg.Validate())

	require.ErrorIs(t, (&ConsumerConfig{Topic: "t"}).Validate(), ErrNoBrokers)
	require.ErrorIs(t, (&ConsumerConfig{Brokers: []string{"b"}}).Validate(), ErrNoTopic)
}

func TestNewConsumerRequiresRecorder(t *testing.T) {
	cfg := &ConsumerConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}

	_, err := NewConsumer(cfg, nil)
	require.ErrorIs(t, err, ErrNilRecorder)
}

func TestProcessMessageRecordsValidEvent(t *testing.T) {
	recorder := &fakeRecorder{}
	consumer := testConsumer(recorder)

	payload, err := json.Marshal(validEvent())
	require.NoError(t, err)

	require.NoError(t, consumer.processMessage(context.Background(), payload))
	require.Len(t, recorder.events, 1)
	require.Equal(t, "steps.trainer", recorder.events[0].ComponentID)
}

func TestProcessMessageDropsUndecodablePayload(t *testing.T) {
	recorder := &fakeRecorder{}
	consumer := testConsumer(recorder)

	require.NoError(t, consumer.processMessage(context.Background(), []byte("not json")))
	require.Empty(t, recorder.events)
}

func TestProcessMessageDropsInvalidEvent(t *testing.T) {
	recorder := &fakeRecorder{}
	consumer := testConsumer(recorder)

	event := validEvent()
	event.ComponentID = "trainer"

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, consumer.processMessage(context.Background(), payload))
	require.Empty(t, recorder.events)
}

func TestProcessMessagePropagatesStoreErrors(t *testing.T) {
	storeErr := metadata.NewStoreError("record_run_event", errors.New("connection refused"))
	recorder := &fakeRecorder{err: storeErr}
	consumer := testConsumer(recorder)

	payload, err := json.Marshal(validEvent())
	require.NoError(t, err)

	err = consumer.processMessage(context.Background(), payload)
	require.Error(t, err)

	var asStoreErr *metadata.StoreError

	require.ErrorAs(t, err, &asStoreErr)
}

func TestProcessMessageDropsSemanticRejections(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("invalid state transition from terminal state")}
	consumer := testConsumer(recorder)

	payload, err := json.Marshal(validEvent())
	require.NoError(t, err)

	// Non-store errors must not bubble up, or the consumer would retry a
	// permanently bad event forever.
	require.NoError(t, consumer.processMessage(context.Background(), payload))
}
