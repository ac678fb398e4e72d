package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/maestro/internal/quota"
	"github.com/thebtf/maestro/internal/telemetry"
	"github.com/thebtf/maestro/internal/toolregistry"
	"github.com/thebtf/maestro/pkg/models"
)

// ManagerSuite is a test suite for session lifecycle operations.
type ManagerSuite struct {
	suite.Suite
	store      *MemoryStore
	events     *telemetry.MemoryStore
	quotaStore *quota.MemoryStore
	quotaSink  *quota.Sink
	manager    *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.events = telemetry.NewMemoryStore()
	s.quotaStore = quota.NewMemoryStore(quota.Defaults{TokenCeiling: 10000})
	s.quotaSink = quota.NewSink(s.quotaStore)

	registry := toolregistry.New(
		toolregistry.Tool{ID: "charter"},
		toolregistry.Tool{ID: "wbs"},
		toolregistry.Tool{ID: "estimate"},
	)
	s.manager = NewManager(s.store, registry, telemetry.NewSink(s.events), s.quotaSink)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) eventsOfType(t models.EventType) []*models.TelemetryEvent {
	var out []*models.TelemetryEvent
	for _, e := range s.events.All() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// TestStartSession tests session creation with its initial pending step.
func (s *ManagerSuite) TestStartSession() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", models.JSONMap{"project": "Tower A"})
	s.Require().NoError(err)
	s.NotEmpty(handle.SessionID)
	s.NotEmpty(handle.StepID)

	sess, err := s.manager.ResumeSession(ctx, handle.SessionID)
	s.Require().NoError(err)
	s.Equal(models.SessionStatusActive, sess.Status)
	s.Equal("user-1", sess.UserID)
	s.Require().Len(sess.Steps, 1)
	s.Equal(models.StepStatusPending, sess.Steps[0].Status)
	s.Equal("charter", sess.Steps[0].ToolID)
	s.Nil(sess.Steps[0].CompletedAt)

	s.Len(s.eventsOfType(models.EventWorkflowStarted), 1)
}

// TestStartSessionInvalidTool tests the InvalidToolError path.
func (s *ManagerSuite) TestStartSessionInvalidTool() {
	_, err := s.manager.StartSession(context.Background(), "user-1", "ghost", nil)
	s.Require().Error(err)
	s.ErrorIs(err, ErrInvalidTool)

	var invalidTool *InvalidToolError
	s.Require().True(errors.As(err, &invalidTool))
	s.Equal("ghost", invalidTool.ToolID)
}

// TestBeginStepReusesInitialPending tests that the first BeginStep
// activates the step StartSession seeded instead of appending another.
func (s *ManagerSuite) TestBeginStepReusesInitialPending() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	step, err := s.manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)
	s.Equal(handle.StepID, step.StepID)

	sess, err := s.manager.ResumeSession(ctx, handle.SessionID)
	s.Require().NoError(err)
	s.Len(sess.Steps, 1)
	s.Equal(models.StepStatusActive, sess.Steps[0].Status)
}

// TestBeginStepErrors tests the thrown error taxonomy.
func (s *ManagerSuite) TestBeginStepErrors() {
	ctx := context.Background()

	_, err := s.manager.BeginStep(ctx, "no-such-session", "charter", "draft", nil)
	s.ErrorIs(err, ErrSessionNotFound)

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	_, err = s.manager.BeginStep(ctx, handle.SessionID, "ghost", "draft", nil)
	s.ErrorIs(err, ErrInvalidTool)

	_, err = s.manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)

	// Second begin while the first step is still active.
	_, err = s.manager.BeginStep(ctx, handle.SessionID, "wbs", "plan", nil)
	s.Require().Error(err)
	s.ErrorIs(err, ErrConcurrentStep)

	var concurrent *ConcurrentStepError
	s.Require().True(errors.As(err, &concurrent))
	s.Equal(handle.SessionID, concurrent.SessionID)
	s.Equal(handle.StepID, concurrent.ActiveStepID)
}

// TestCompleteStepSetsTerminalState tests output, usage metering, and the
// CompletedAt-iff-terminal round trip.
func (s *ManagerSuite) TestCompleteStepSetsTerminalState() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)
	step, err := s.manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)

	err = s.manager.CompleteStep(ctx, step.StepID, models.JSONMap{"charterText": "..."},
		&models.Usage{Tokens: 500, CostUSD: 0.01})
	s.Require().NoError(err)

	got, err := s.store.GetStep(ctx, step.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusCompleted, got.Status)
	s.Require().NotNil(got.CompletedAt)
	s.Equal(int64(500), got.TokensUsed)
	s.Equal("...", got.Output["charterText"])

	// Usage was metered against the session owner's quota.
	state, err := s.quotaSink.State(ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(500), state.TokensConsumed)

	s.Len(s.eventsOfType(models.EventWorkflowStepCompleted), 1)
}

// TestTerminalTransitionIdempotent tests that the first terminal value
// wins and no second telemetry event is emitted.
func (s *ManagerSuite) TestTerminalTransitionIdempotent() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)
	step, err := s.manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.CompleteStep(ctx, step.StepID, nil, nil))
	s.Require().NoError(s.manager.CompleteStep(ctx, step.StepID, models.JSONMap{"late": true}, nil))
	s.Require().NoError(s.manager.FailStep(ctx, step.StepID, "too late"))

	got, err := s.store.GetStep(ctx, step.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusCompleted, got.Status)
	s.Empty(got.ErrorMessage)

	s.Len(s.eventsOfType(models.EventWorkflowStepCompleted), 1)
	s.Empty(s.eventsOfType(models.EventWorkflowFailed))
}

// TestFailStep tests the failed terminal state and workflow_failed event.
func (s *ManagerSuite) TestFailStep() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)
	step, err := s.manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.FailStep(ctx, step.StepID, "provider timeout"))

	got, err := s.store.GetStep(ctx, step.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusFailed, got.Status)
	s.NotNil(got.CompletedAt)
	s.Equal("provider timeout", got.ErrorMessage)

	events := s.eventsOfType(models.EventWorkflowFailed)
	s.Require().Len(events, 1)
	s.False(events[0].Success)
}

// TestStepOrderingIsInsertionOrder tests the append-only breadcrumb.
func (s *ManagerSuite) TestStepOrderingIsInsertionOrder() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	tools := []string{"charter", "wbs", "estimate"}
	for _, tool := range tools {
		step, err := s.manager.BeginStep(ctx, handle.SessionID, tool, "run", nil)
		s.Require().NoError(err)
		s.Require().NoError(s.manager.CompleteStep(ctx, step.StepID, nil, nil))
	}

	sess, err := s.manager.ResumeSession(ctx, handle.SessionID)
	s.Require().NoError(err)
	s.Require().Len(sess.Steps, 3)
	for i, tool := range tools {
		s.Equal(tool, sess.Steps[i].ToolID)
	}
}

// TestCompleteSession tests session close-out.
func (s *ManagerSuite) TestCompleteSession() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.CompleteSession(ctx, handle.SessionID))
	s.Len(s.eventsOfType(models.EventWorkflowCompleted), 1)

	// Closed sessions accept no further steps.
	_, err = s.manager.BeginStep(ctx, handle.SessionID, "wbs", "plan", nil)
	s.ErrorIs(err, ErrSessionNotFound)

	// Closing twice is a warning no-op without a second event.
	s.Require().NoError(s.manager.CompleteSession(ctx, handle.SessionID))
	s.Len(s.eventsOfType(models.EventWorkflowCompleted), 1)
}

// TestRunSuccess tests the managed invocation path end to end.
func (s *ManagerSuite) TestRunSuccess() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	invoke := func(_ context.Context, input models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return models.JSONMap{"charterText": "done"}, &models.Usage{Tokens: 250, CostUSD: 0.005}, nil
	}

	result, err := s.manager.Run(ctx, handle.SessionID, "charter", "draft",
		models.JSONMap{"project": "Tower A"}, 300, invoke)
	s.Require().NoError(err)
	s.Nil(result.Denied)
	s.Equal("done", result.Output["charterText"])

	got, err := s.store.GetStep(ctx, result.Step.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusCompleted, got.Status)

	state, err := s.quotaSink.State(ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(250), state.TokensConsumed)

	// The reservation was released: the full remaining headroom is visible.
	decision, err := s.quotaSink.CheckQuota(ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Equal(int64(9750), decision.RemainingTokens)

	s.Len(s.eventsOfType(models.EventToolInvoked), 1)
}

// flakySessionStore fails session lookups on demand while everything
// else keeps working.
type flakySessionStore struct {
	*MemoryStore
	failGet bool
}

func (f *flakySessionStore) GetSession(ctx context.Context, id string) (*models.WorkflowSession, error) {
	if f.failGet {
		return nil, errors.New("session table unavailable")
	}
	return f.MemoryStore.GetSession(ctx, id)
}

// TestCompleteStepMeteringSurvivesSessionLookupFailure tests that a failed
// session lookup leaves the completion intact; metering is best-effort and
// the usage simply goes unrecorded.
func (s *ManagerSuite) TestCompleteStepMeteringSurvivesSessionLookupFailure() {
	ctx := context.Background()

	store := &flakySessionStore{MemoryStore: NewMemoryStore()}
	registry := toolregistry.New(toolregistry.Tool{ID: "charter"})
	manager := NewManager(store, registry, telemetry.NewSink(s.events), s.quotaSink)

	handle, err := manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)
	_, err = manager.BeginStep(ctx, handle.SessionID, "charter", "draft", nil)
	s.Require().NoError(err)

	store.failGet = true
	err = manager.CompleteStep(ctx, handle.StepID, nil, &models.Usage{Tokens: 250, CostUSD: 0.01})
	s.Require().NoError(err)

	got, err := store.GetStep(ctx, handle.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusCompleted, got.Status)

	state, err := s.quotaSink.State(ctx, "user-1")
	s.Require().NoError(err)
	s.Zero(state.TokensConsumed)
}

// TestRunUsageCountedOnceInSummary tests that a managed invocation shows
// up in the session summary with its actual usage, not doubled across the
// tool_invoked and workflow_step_completed events.
func (s *ManagerSuite) TestRunUsageCountedOnceInSummary() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	invoke := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return models.JSONMap{"charterText": "done"}, &models.Usage{Tokens: 250, CostUSD: 0.01}, nil
	}

	_, err = s.manager.Run(ctx, handle.SessionID, "charter", "draft", nil, 300, invoke)
	s.Require().NoError(err)

	summary, err := telemetry.NewSink(s.events).Summarize(ctx, handle.SessionID)
	s.Require().NoError(err)
	s.Equal(int64(250), summary.TotalTokens)
	s.InDelta(0.01, summary.TotalCostUSD, 1e-9)
}

// TestRunFailure tests that the external error propagates and the step fails.
func (s *ManagerSuite) TestRunFailure() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)

	wantErr := errors.New("model overloaded")
	invoke := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		return nil, nil, wantErr
	}

	result, err := s.manager.Run(ctx, handle.SessionID, "charter", "draft", nil, 100, invoke)
	s.Require().ErrorIs(err, wantErr)

	got, err := s.store.GetStep(ctx, result.Step.StepID)
	s.Require().NoError(err)
	s.Equal(models.StepStatusFailed, got.Status)
	s.Equal("model overloaded", got.ErrorMessage)
}

// TestRunQuotaDenied tests that an exhausted quota surfaces as data.
func (s *ManagerSuite) TestRunQuotaDenied() {
	ctx := context.Background()

	handle, err := s.manager.StartSession(ctx, "user-1", "charter", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.quotaSink.RecordUsage(ctx, "user-1", 10000, 0))

	invoked := false
	invoke := func(_ context.Context, _ models.JSONMap) (models.JSONMap, *models.Usage, error) {
		invoked = true
		return nil, nil, nil
	}

	result, err := s.manager.Run(ctx, handle.SessionID, "charter", "draft", nil, 1, invoke)
	s.Require().NoError(err)
	s.Require().NotNil(result.Denied)
	s.False(result.Denied.Allowed)
	s.NotEmpty(result.Denied.Reason)
	s.False(invoked)

	// No step was created for the denied invocation.
	sess, err := s.manager.ResumeSession(ctx, handle.SessionID)
	s.Require().NoError(err)
	s.Len(sess.Steps, 1)
	s.Equal(models.StepStatusPending, sess.Steps[0].Status)
}
