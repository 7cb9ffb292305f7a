package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/socrunbook/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]model.ApprovalQueueEntry
}

func newMemStore() *memStore { return &memStore{entries: make(map[string]model.ApprovalQueueEntry)} }

func (m *memStore) PutApproval(ctx context.Context, entry model.ApprovalQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *memStore) GetApproval(ctx context.Context, id string) (model.ApprovalQueueEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok, nil
}

func (m *memStore) UpdateApprovalIfPending(ctx context.Context, id string, newStatus model.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memStore) ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ApprovalQueueEntry
	for _, e := range m.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestSubmit_SetsRiskBandedTTL(t *testing.T) {
	q := NewQueue(newMemStore(), nil)
	entry, err := q.Submit(context.Background(), SubmitRequest{ExecutionID: "exec-1", RunbookID: "rb-1", RiskLevel: "critical"})
	require.NoError(t, err)
	assert.WithinDuration(t, entry.CreatedAt.Add(ttlCritical), entry.ExpiresAt, time.Second)
}

func TestDecide_ApproveThenReDecideFails(t *testing.T) {
	q := NewQueue(newMemStore(), nil)
	ctx := context.Background()
	entry, err := q.Submit(ctx, SubmitRequest{ExecutionID: "exec-1", RunbookID: "rb-1", RiskLevel: "low"})
	require.NoError(t, err)

	decided, err := q.Decide(ctx, entry.ID, true, "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, decided.Status)

	_, err = q.Decide(ctx, entry.ID, false, "analyst@example.com")
	assert.Error(t, err)
}

func TestDecide_ExpiredApprovalRejected(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, nil)
	ctx := context.Background()

	entry, err := q.Submit(ctx, SubmitRequest{ExecutionID: "exec-1", RunbookID: "rb-1", RiskLevel: "low"})
	require.NoError(t, err)
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.PutApproval(ctx, entry))

	_, err = q.Decide(ctx, entry.ID, true, "analyst@example.com")
	assert.Error(t, err)

	got, _, _ := store.GetApproval(ctx, entry.ID)
	assert.Equal(t, model.ApprovalExpired, got.Status)
}

func TestListPending_LazilyExpires(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, nil)
	ctx := context.Background()

	entry, err := q.Submit(ctx, SubmitRequest{ExecutionID: "exec-1", RunbookID: "rb-1", RiskLevel: "low"})
	require.NoError(t, err)
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.PutApproval(ctx, entry))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, _, _ := store.GetApproval(ctx, entry.ID)
	assert.Equal(t, model.ApprovalExpired, got.Status)
}

func TestConcurrentDecide_OnlyOneWins(t *testing.T) {
	q := NewQueue(newMemStore(), nil)
	ctx := context.Background()
	entry, err := q.Submit(ctx, SubmitRequest{ExecutionID: "exec-1", RunbookID: "rb-1", RiskLevel: "low"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = q.Decide(ctx, entry.ID, true, "analyst@example.com")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}
