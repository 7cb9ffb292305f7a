package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/approval"
	"github.com/socrunbook/engine/internal/audit"
	"github.com/socrunbook/engine/internal/executor"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/queueexec"
	"github.com/socrunbook/engine/internal/scheduler"
	"github.com/socrunbook/engine/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	adapters map[string]adapter.Adapter
}

func (s *stubResolver) GetForAction(action string) (adapter.Adapter, bool) {
	a, ok := s.adapters[action]
	return a, ok
}

func (s *stubResolver) Get(name string) (adapter.Adapter, bool) {
	for _, a := range s.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

type okAdapter struct{ adapter.Base }

func (o *okAdapter) Execute(ctx context.Context, action string, params map[string]any, mode adapter.ExecutionMode) (*adapter.Result, error) {
	return adapter.Success(map[string]any{"action": action}), nil
}

type memAuditStore struct{ entries map[string][]model.AuditEntry }

func (m *memAuditStore) AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	if m.entries == nil {
		m.entries = make(map[string][]model.AuditEntry)
	}
	m.entries[entry.ExecutionID] = append(m.entries[entry.ExecutionID], entry)
	return nil
}
func (m *memAuditStore) AuditEntries(ctx context.Context, executionID string) ([]model.AuditEntry, error) {
	return m.entries[executionID], nil
}

type memApprovalStore struct {
	entries map[string]model.ApprovalQueueEntry
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{entries: make(map[string]model.ApprovalQueueEntry)}
}
func (m *memApprovalStore) PutApproval(ctx context.Context, entry model.ApprovalQueueEntry) error {
	m.entries[entry.ID] = entry
	return nil
}
func (m *memApprovalStore) GetApproval(ctx context.Context, id string) (model.ApprovalQueueEntry, bool, error) {
	e, ok := m.entries[id]
	return e, ok, nil
}
func (m *memApprovalStore) UpdateApprovalIfPending(ctx context.Context, id string, newStatus model.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error) {
	e, ok := m.entries[id]
	if !ok || e.Status != model.ApprovalPending {
		return false, nil
	}
	e.Status = newStatus
	e.DecidedBy = decidedBy
	e.DecidedAt = &decidedAt
	m.entries[id] = e
	return true, nil
}
func (m *memApprovalStore) ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalQueueEntry, error) {
	var out []model.ApprovalQueueEntry
	for _, e := range m.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

type noopPersistence struct{}

func (noopPersistence) PutExecution(ctx context.Context, result model.ExecutionResult) error {
	return nil
}
func (noopPersistence) PutStepResult(ctx context.Context, executionID string, r model.StepResult) error {
	return nil
}

type fakeRunbookLookup struct{ rb *model.Runbook }

func (f *fakeRunbookLookup) GetRunbook(ctx context.Context, runbookID string) (*model.Runbook, error) {
	return f.rb, nil
}

func newTestHandler(rb *model.Runbook, resolver adapter.Resolver) *Handler {
	exec := executor.New(resolver)
	sim := simulation.New(resolver)
	auditLogger := audit.NewLogger(&memAuditStore{})
	approvalStore := newMemApprovalStore()
	approvals := approval.NewQueue(approvalStore, nil)
	sched := scheduler.New(exec, sim, auditLogger, approvals, noopPersistence{}, nil, nil)
	lookup := &fakeRunbookLookup{rb: rb}
	qe := queueexec.New(exec, auditLogger, noopPersistence{}, lookup, sched)
	return NewHandler(sched, approvals, qe, lookup, nil)
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func TestTrigger_ReadOnlyRunbookCompletesSynchronously(t *testing.T) {
	rb := &model.Runbook{
		ID: "rb-1", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "query_siem"}},
	}
	resolver := &stubResolver{adapters: map[string]adapter.Adapter{
		"query_siem": &okAdapter{adapter.Base{AdapterName: "siem", Actions: []string{"query_siem"}}},
	}}
	h := newTestHandler(rb, resolver)
	r := newRouter(h)

	body, _ := json.Marshal(triggerRequest{Alert: model.Alert{ID: "alert-1"}, Mode: model.RunModeProduction})
	req := httptest.NewRequest(http.MethodPost, "/runbooks/rb-1/trigger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result model.ExecutionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, model.StateCompleted, result.State)
}

func TestTrigger_WriteRunbookReturnsAwaitingApproval(t *testing.T) {
	rb := &model.Runbook{
		ID: "rb-1", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "isolate_host"}},
	}
	resolver := &stubResolver{adapters: map[string]adapter.Adapter{
		"isolate_host": &okAdapter{adapter.Base{AdapterName: "edr", Actions: []string{"isolate_host"}}},
	}}
	h := newTestHandler(rb, resolver)
	r := newRouter(h)

	approvedLevel := model.ModeApproved
	body, _ := json.Marshal(triggerRequest{
		Alert: model.Alert{ID: "alert-1"}, Mode: model.RunModeProduction,
		AutomationLevelOverride: &approvedLevel,
	})
	req := httptest.NewRequest(http.MethodPost, "/runbooks/rb-1/trigger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "awaiting_approval", payload["status"])

	// the approval should now be listable
	listReq := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)
	var list map[string]any
	require.NoError(t, json.Unmarshal(listW.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list["count"])
}

func TestApprove_UnknownIDReturnsConflict(t *testing.T) {
	h := newTestHandler(&model.Runbook{ID: "rb-1"}, &stubResolver{adapters: map[string]adapter.Adapter{}})
	r := newRouter(h)

	body, _ := json.Marshal(decisionRequest{DecidedBy: "analyst@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/approvals/does-not-exist/approve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
