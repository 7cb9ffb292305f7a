package storage

import (
	"context"
	"testing"
	"time"

	"github.com/socrunbook/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	result := model.ExecutionResult{
		ExecutionID:    "exec-1",
		RunbookID:      "rb-1",
		RunbookVersion: "1.0.0",
		Mode:           model.RunModeProduction,
		State:          model.StateExecuting,
		StartedAt:      time.Now(),
	}
	require.NoError(t, s.PutExecution(ctx, result))

	rb, ver, mode, state, found, err := s.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rb-1", rb)
	assert.Equal(t, "1.0.0", ver)
	assert.Equal(t, model.RunModeProduction, mode)
	assert.Equal(t, model.StateExecuting, state)
}

func TestPutStepResultAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := model.StepResult{
		StepID:      "s1",
		Status:      model.StateCompleted,
		Output:      map[string]any{"hits": float64(3)},
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		Attempts:    1,
	}
	require.NoError(t, s.PutStepResult(ctx, "exec-1", r))

	results, err := s.ListStepResults(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].StepID)
	assert.Equal(t, float64(3), results[0].Output["hits"])
}

func TestApprovalQueue_AtomicTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := model.ApprovalQueueEntry{
		ID: "appr-1", ExecutionID: "exec-1", RunbookID: "rb-1",
		RiskLevel: "high", Status: model.ApprovalPending,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutApproval(ctx, entry))

	applied, err := s.UpdateApprovalIfPending(ctx, "appr-1", model.ApprovalApproved, "analyst", time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.UpdateApprovalIfPending(ctx, "appr-1", model.ApprovalDenied, "analyst", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, ok, err := s.GetApproval(ctx, "appr-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ApprovalApproved, got.Status)
}

func TestAuditLog_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := model.AuditEntry{
		ExecutionID: "exec-1", Sequence: 1, EventType: "execution_started",
		Details: map[string]any{"runbook": "rb-1"}, Timestamp: time.Now(),
		PrevHash: "", Hash: "deadbeef",
	}
	require.NoError(t, s.AppendAuditEntry(ctx, entry))

	entries, err := s.AuditEntries(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deadbeef", entries[0].Hash)
}
