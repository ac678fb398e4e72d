package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/maestro/pkg/models"
)

// failingStore always fails on Append to simulate a broken backing store.
type failingStore struct {
	MemoryStore
	appendCalls int
}

func (f *failingStore) Append(_ context.Context, _ *models.TelemetryEvent) error {
	f.appendCalls++
	return errors.New("store unavailable")
}

// SinkSuite is a test suite for the telemetry sink.
type SinkSuite struct {
	suite.Suite
	store *MemoryStore
	sink  *Sink
}

func (s *SinkSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.sink = NewSink(s.store)
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

// TestRecordAssignsIdentity tests that Record fills in ID and timestamp.
func (s *SinkSuite) TestRecordAssignsIdentity() {
	ctx := context.Background()

	s.sink.Record(ctx, &models.TelemetryEvent{
		Type:      models.EventWorkflowStarted,
		ToolID:    "charter",
		SessionID: "sess-1",
		Success:   true,
	})

	events := s.store.All()
	s.Require().Len(events, 1)
	s.NotEmpty(events[0].ID)
	s.False(events[0].CreatedAt.IsZero())
	s.Equal(models.EventWorkflowStarted, events[0].Type)
}

// TestRecordSwallowsStoreFailure tests that a failing store never
// propagates to the caller.
func (s *SinkSuite) TestRecordSwallowsStoreFailure() {
	store := &failingStore{}
	sink := NewSink(store)

	s.NotPanics(func() {
		sink.Record(context.Background(), &models.TelemetryEvent{
			Type:   models.EventToolInvoked,
			ToolID: "charter",
		})
	})
	s.Equal(1, store.appendCalls)
}

// TestSummarize tests session aggregation including the empty case.
func (s *SinkSuite) TestSummarize() {
	ctx := context.Background()

	// Empty session: success rate must be 0, not NaN.
	summary, err := s.sink.Summarize(ctx, "empty")
	s.Require().NoError(err)
	s.Zero(summary.TotalEvents)
	s.Zero(summary.SuccessRate)

	s.sink.Record(ctx, &models.TelemetryEvent{
		Type: models.EventToolInvoked, ToolID: "charter", SessionID: "sess-1",
		Success: true, LatencyMS: 120,
	})
	s.sink.Record(ctx, &models.TelemetryEvent{
		Type: models.EventWorkflowStepCompleted, ToolID: "charter", SessionID: "sess-1",
		Success: true, TokensUsed: 100, CostUSD: 0.01,
	})
	s.sink.Record(ctx, &models.TelemetryEvent{
		Type: models.EventToolInvoked, ToolID: "wbs", SessionID: "sess-1",
		Success: false, LatencyMS: 80, ErrorMessage: "provider timeout",
	})
	s.sink.Record(ctx, &models.TelemetryEvent{
		Type: models.EventToolInvoked, ToolID: "wbs", SessionID: "other",
		Success: true,
	})

	summary, err = s.sink.Summarize(ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(int64(3), summary.TotalEvents)
	s.Equal(int64(2), summary.ToolInvocations)
	s.InDelta(2.0/3.0, summary.SuccessRate, 1e-9)
	s.Equal(int64(200), summary.TotalLatencyMS)
	s.Equal(int64(100), summary.TotalTokens)
	s.InDelta(0.01, summary.TotalCostUSD, 1e-9)
	s.Equal(int64(2), summary.EventsByType[models.EventToolInvoked])
	s.Equal(int64(1), summary.EventsByType[models.EventWorkflowStepCompleted])
}

// TestWrapSuccess tests that Wrap passes results through and records the
// invocation with latency but no usage; usage belongs to the step
// completion event so summaries count it once.
func (s *SinkSuite) TestWrapSuccess() {
	fn := func(_ context.Context, input models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return models.JSONMap{"echo": input["msg"]}, &models.Usage{Tokens: 42, CostUSD: 0.002}, nil
	}

	wrapped := s.sink.Wrap(fn, "charter", "sess-1")
	output, usage, err := wrapped(context.Background(), models.JSONMap{"msg": "hi"})

	s.Require().NoError(err)
	s.Equal("hi", output["echo"])
	s.Equal(int64(42), usage.Tokens)

	events := s.store.All()
	s.Require().Len(events, 1)
	s.Equal(models.EventToolInvoked, events[0].Type)
	s.True(events[0].Success)
	s.Zero(events[0].TokensUsed)
	s.Zero(events[0].CostUSD)
}

// TestWrapFailure tests that the original error is re-thrown unchanged and
// the recorded event carries success=false.
func (s *SinkSuite) TestWrapFailure() {
	wantErr := errors.New("model overloaded")
	fn := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return nil, nil, wantErr
	}

	wrapped := s.sink.Wrap(fn, "charter", "sess-1")
	output, usage, err := wrapped(context.Background(), nil)

	s.Nil(output)
	s.Nil(usage)
	s.ErrorIs(err, wantErr)

	events := s.store.All()
	s.Require().Len(events, 1)
	s.False(events[0].Success)
	s.Equal("model overloaded", events[0].ErrorMessage)
}

// TestWrapStoreFailureInvisible tests that a telemetry store failure never
// alters the wrapped function's observable outcome.
func (s *SinkSuite) TestWrapStoreFailureInvisible() {
	sink := NewSink(&failingStore{})

	fn := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return models.JSONMap{"ok": true}, nil, nil
	}
	output, _, err := sink.Wrap(fn, "charter", "sess-1")(context.Background(), nil)
	s.NoError(err)
	s.Equal(true, output["ok"])

	wantErr := errors.New("tool failed")
	failing := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return nil, nil, wantErr
	}
	_, _, err = sink.Wrap(failing, "charter", "sess-1")(context.Background(), nil)
	s.ErrorIs(err, wantErr)
}
