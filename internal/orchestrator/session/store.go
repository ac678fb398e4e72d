// Package session owns workflow session and step lifecycle for the
// orchestration core.
//
// A WorkflowSession is the container for one user task; its step list is
// append-only and at most one step may be active at a time. The
// one-active-step invariant is enforced in the Store via compare-and-set
// transitions so that near-simultaneous BeginStep calls on the same
// session cannot both succeed.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/thebtf/maestro/pkg/models"
)

// StepUpdate carries the terminal transition of a step.
type StepUpdate struct {
	Status       models.StepStatus // completed or failed
	Output       models.JSONMap
	TokensUsed   int64
	CostUSD      float64
	ErrorMessage string
	CompletedAt  time.Time
}

// Store persists sessions and steps.
//
// Contract:
//   - GetSession/GetSessionWithSteps return ErrSessionNotFound for unknown IDs.
//   - ActivateStep transitions pending -> active atomically and returns
//     ErrConcurrentStep when another step in the session is already active.
//   - FinishStep applies the terminal transition only when the step is not
//     already terminal; it returns false (no error) otherwise.
type Store interface {
	CreateSession(ctx context.Context, sess *models.WorkflowSession, first *models.WorkflowStep) error
	GetSession(ctx context.Context, sessionID string) (*models.WorkflowSession, error)
	GetSessionWithSteps(ctx context.Context, sessionID string) (*models.WorkflowSession, error)
	SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) error

	AppendStep(ctx context.Context, step *models.WorkflowStep) error
	GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error)
	ActivateStep(ctx context.Context, sessionID, stepID string, at time.Time) error
	FinishStep(ctx context.Context, stepID string, upd StepUpdate) (bool, error)
}

// MemoryStore is an in-memory Store used by tests and single-process
// setups. A single mutex guards all transitions, which makes the
// compare-and-set semantics trivial.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.WorkflowSession
	steps    map[string]*models.WorkflowStep
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.WorkflowSession),
		steps:    make(map[string]*models.WorkflowStep),
	}
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(_ context.Context, sess *models.WorkflowSession, first *models.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *sess
	s.StepIDs = []string{first.ID}
	s.Steps = nil
	m.sessions[s.ID] = &s

	step := *first
	m.steps[step.ID] = &step
	return nil
}

func (m *MemoryStore) session(sessionID string) (*models.WorkflowSession, error) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return sess, nil
}

// GetSession implements Store. The returned session carries step IDs only.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.WorkflowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	out := *sess
	out.StepIDs = append([]string(nil), sess.StepIDs...)
	return &out, nil
}

// GetSessionWithSteps implements Store.
func (m *MemoryStore) GetSessionWithSteps(_ context.Context, sessionID string) (*models.WorkflowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	out := *sess
	out.StepIDs = append([]string(nil), sess.StepIDs...)
	out.Steps = make([]*models.WorkflowStep, 0, len(sess.StepIDs))
	for _, id := range sess.StepIDs {
		step := *m.steps[id]
		out.Steps = append(out.Steps, &step)
	}
	return &out, nil
}

// SetSessionStatus implements Store.
func (m *MemoryStore) SetSessionStatus(_ context.Context, sessionID string, status models.SessionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.UpdatedAt = at
	return nil
}

// AppendStep implements Store. The step list is append-only.
func (m *MemoryStore) AppendStep(_ context.Context, step *models.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(step.SessionID)
	if err != nil {
		return err
	}

	s := *step
	m.steps[s.ID] = &s
	sess.StepIDs = append(sess.StepIDs, s.ID)
	sess.UpdatedAt = s.StartedAt
	return nil
}

// GetStep implements Store.
func (m *MemoryStore) GetStep(_ context.Context, stepID string) (*models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.steps[stepID]
	if !ok {
		return nil, ErrStepNotFound
	}
	out := *step
	return &out, nil
}

// ActivateStep implements Store: pending -> active, compare-and-set
// against the one-active-step invariant.
func (m *MemoryStore) ActivateStep(_ context.Context, sessionID, stepID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	for _, id := range sess.StepIDs {
		if other := m.steps[id]; other.Status == models.StepStatusActive && id != stepID {
			return &ConcurrentStepError{SessionID: sessionID, ActiveStepID: id}
		}
	}

	step, ok := m.steps[stepID]
	if !ok {
		return ErrStepNotFound
	}
	if step.Status != models.StepStatusPending {
		if step.Status == models.StepStatusActive {
			return nil
		}
		return &ConcurrentStepError{SessionID: sessionID, ActiveStepID: stepID}
	}
	step.Status = models.StepStatusActive
	step.StartedAt = at
	sess.UpdatedAt = at
	return nil
}

// FinishStep implements Store. Returns false when the step was already
// terminal; the first terminal value wins.
func (m *MemoryStore) FinishStep(_ context.Context, stepID string, upd StepUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.steps[stepID]
	if !ok {
		return false, ErrStepNotFound
	}
	if step.Status.Terminal() {
		return false, nil
	}

	step.Status = upd.Status
	step.Output = upd.Output
	step.TokensUsed = upd.TokensUsed
	step.CostUSD = upd.CostUSD
	step.ErrorMessage = upd.ErrorMessage
	completedAt := upd.CompletedAt
	step.CompletedAt = &completedAt

	if sess, ok := m.sessions[step.SessionID]; ok {
		sess.UpdatedAt = completedAt
	}
	return true, nil
}
