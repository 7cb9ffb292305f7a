// Package approval implements the L2 approval queue: gated write steps,
// each with its simulated preview, wait here, with risk-driven TTLs, until a human approves or
// denies them, or they expire. Transitions out of "pending" are atomic.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/socrunbook/engine/internal/model"
	"go.uber.org/zap"
)

// TTLs mirror the teacher's risk-banded approval expirations.
const (
	ttlLow      = 7 * 24 * time.Hour
	ttlMedium   = 48 * time.Hour
	ttlHigh     = 24 * time.Hour
	ttlCritical = 4 * time.Hour
)

// Store persists approval queue entries.
type Store interface {
	PutApproval(ctx context.Context, entry model.ApprovalQueueEntry) error
	GetApproval(ctx context.Context, id string) (model.ApprovalQueueEntry, bool, error)
	// UpdateApprovalIfPending atomically transitions an entry's status,
	// but only if its current persisted status is still "pending" —
	// the WHERE status='pending' guard spec.md requires.
	UpdateApprovalIfPending(ctx context.Context, id string, newStatus model.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error)
	ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalQueueEntry, error)
}

// Queue is the approval queue store: submission, decision and expiry.
type Queue struct {
	store  Store
	log    *zap.SugaredLogger
	cron   *cron.Cron
	mu     sync.Mutex
}

// NewQueue builds a Queue backed by store.
func NewQueue(store Store, log *zap.SugaredLogger) *Queue {
	return &Queue{store: store, log: log}
}

// TTLFor returns the expiration duration for a risk level ("low",
// "medium", "high", "critical"); unknown levels fall back to medium.
func TTLFor(riskLevel string) time.Duration {
	switch riskLevel {
	case "low":
		return ttlLow
	case "high":
		return ttlHigh
	case "critical":
		return ttlCritical
	default:
		return ttlMedium
	}
}

// SubmitRequest is the single gated step a Submit call enqueues.
type SubmitRequest struct {
	ExecutionID  string
	RunbookID    string
	RunbookName  string
	StepID       string
	StepName     string
	Action       string
	RiskLevel    string
	Simulation   []byte
	Parameters   map[string]any
	Alert        model.Alert
	PriorResults map[string]*model.StepResult
	// TTLOverride replaces the risk-banded TTL (spec's runbook-level
	// config.approval_timeout) when set and positive.
	TTLOverride []time.Duration
}

// Submit enqueues a new pending approval for one simulated write step,
// freezing the resolved parameters that will be replayed verbatim if
// approved.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (model.ApprovalQueueEntry, error) {
	ttl := TTLFor(req.RiskLevel)
	if len(req.TTLOverride) > 0 && req.TTLOverride[0] > 0 {
		ttl = req.TTLOverride[0]
	}

	now := time.Now()
	entry := model.ApprovalQueueEntry{
		ID:             uuid.New().String(),
		ExecutionID:    req.ExecutionID,
		RunbookID:      req.RunbookID,
		RunbookName:    req.RunbookName,
		StepID:         req.StepID,
		StepName:       req.StepName,
		Action:         req.Action,
		RiskLevel:      req.RiskLevel,
		Status:         model.ApprovalPending,
		SimulationJSON: req.Simulation,
		Parameters:     req.Parameters,
		Alert:          req.Alert,
		PriorResults:   req.PriorResults,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := q.store.PutApproval(ctx, entry); err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	return entry, nil
}

// Decide atomically transitions a pending approval to approved or
// denied. It fails if the entry is missing, already decided, or expired.
func (q *Queue) Decide(ctx context.Context, id string, approve bool, decidedBy string) (model.ApprovalQueueEntry, error) {
	entry, ok, err := q.store.GetApproval(ctx, id)
	if err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	if !ok {
		return model.ApprovalQueueEntry{}, fmt.Errorf("approval not found: %s", id)
	}
	if time.Now().After(entry.ExpiresAt) {
		_, _ = q.store.UpdateApprovalIfPending(ctx, id, model.ApprovalExpired, "", time.Now())
		return model.ApprovalQueueEntry{}, fmt.Errorf("approval expired: %s", id)
	}

	newStatus := model.ApprovalDenied
	if approve {
		newStatus = model.ApprovalApproved
	}

	now := time.Now()
	applied, err := q.store.UpdateApprovalIfPending(ctx, id, newStatus, decidedBy, now)
	if err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	if !applied {
		return model.ApprovalQueueEntry{}, fmt.Errorf("approval already decided: %s", id)
	}

	entry.Status = newStatus
	entry.DecidedBy = decidedBy
	entry.DecidedAt = &now
	return entry, nil
}

// Get returns a single approval entry, lazily expiring it if its TTL
// has elapsed while it was still marked pending.
func (q *Queue) Get(ctx context.Context, id string) (model.ApprovalQueueEntry, bool, error) {
	entry, ok, err := q.store.GetApproval(ctx, id)
	if err != nil || !ok {
		return entry, ok, err
	}
	if entry.Status == model.ApprovalPending && time.Now().After(entry.ExpiresAt) {
		if _, err := q.store.UpdateApprovalIfPending(ctx, id, model.ApprovalExpired, "", time.Now()); err != nil {
			return model.ApprovalQueueEntry{}, false, err
		}
		entry.Status = model.ApprovalExpired
	}
	return entry, true, nil
}

// ListPending returns all currently-pending approvals, lazily expiring
// any whose TTL has elapsed.
func (q *Queue) ListPending(ctx context.Context) ([]model.ApprovalQueueEntry, error) {
	all, err := q.store.ListApprovals(ctx, model.ApprovalPending)
	if err != nil {
		return nil, err
	}
	out := make([]model.ApprovalQueueEntry, 0, len(all))
	now := time.Now()
	for _, e := range all {
		if now.After(e.ExpiresAt) {
			_, _ = q.store.UpdateApprovalIfPending(ctx, e.ID, model.ApprovalExpired, "", now)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// sweepExpired actively expires any pending approval past its TTL,
// rather than relying only on lazy expiry at read time.
func (q *Queue) sweepExpired(ctx context.Context) {
	pending, err := q.store.ListApprovals(ctx, model.ApprovalPending)
	if err != nil {
		if q.log != nil {
			q.log.Warnw("approval sweep: list pending failed", "error", err)
		}
		return
	}
	now := time.Now()
	for _, e := range pending {
		if now.After(e.ExpiresAt) {
			if _, err := q.store.UpdateApprovalIfPending(ctx, e.ID, model.ApprovalExpired, "", now); err != nil && q.log != nil {
				q.log.Warnw("approval sweep: expire failed", "id", e.ID, "error", err)
			}
		}
	}
}

// StartSweep runs sweepExpired on a cron schedule (default: every
// minute) until ctx is cancelled.
func (q *Queue) StartSweep(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { q.sweepExpired(ctx) }); err != nil {
		return err
	}
	c.Start()
	q.cron = c

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}
