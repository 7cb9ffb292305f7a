// Package audit implements the tamper-evident, hash-chained audit log:
// one append-only chain per execution_id, each entry's hash depending on
// the previous entry's hash so any edit or deletion breaks the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/socrunbook/engine/internal/model"
)

// GenesisHash is the prev_hash value used for the first entry in a chain.
const GenesisHash = ""

// Store persists audit entries, keyed by execution_id, in append order.
type Store interface {
	AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error
	AuditEntries(ctx context.Context, executionID string) ([]model.AuditEntry, error)
}

// Logger appends hash-chained entries and can verify a chain's integrity.
type Logger struct {
	store Store

	mu       sync.Mutex
	lastHash map[string]string // execution_id -> hash of its last entry
	lastSeq  map[string]int64
}

// NewLogger builds a Logger writing through store.
func NewLogger(store Store) *Logger {
	return &Logger{store: store, lastHash: make(map[string]string), lastSeq: make(map[string]int64)}
}

// Append writes one new entry to executionID's chain and returns it.
func (l *Logger) Append(ctx context.Context, executionID, eventType string, details map[string]any) (model.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := l.lastHash[executionID]
	seq := l.lastSeq[executionID] + 1
	now := time.Now().UTC()

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal audit details: %w", err)
	}

	hash := computeHash(prevHash, eventType, executionID, detailsJSON, now)

	entry := model.AuditEntry{
		Sequence:    seq,
		ExecutionID: executionID,
		EventType:   eventType,
		Details:     details,
		Timestamp:   now,
		PrevHash:    prevHash,
		Hash:        hash,
	}

	// Terminal audit writes must survive a cancelled or timed-out caller
	// context: the chain integrity depends on every entry landing.
	writeCtx := context.WithoutCancel(ctx)
	if err := l.store.AppendAuditEntry(writeCtx, entry); err != nil {
		return model.AuditEntry{}, err
	}

	l.lastHash[executionID] = hash
	l.lastSeq[executionID] = seq
	return entry, nil
}

// computeHash reproduces hash = SHA-256(prev_hash|event_type|execution_id|details_json|timestamp).
func computeHash(prevHash, eventType, executionID string, detailsJSON []byte, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write([]byte(eventType))
	h.Write([]byte("|"))
	h.Write([]byte(executionID))
	h.Write([]byte("|"))
	h.Write(detailsJSON)
	h.Write([]byte("|"))
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the chain over entries (one execution's entries, in
// append order) and reports whether every
// entry's hash matches what Append would have produced, in sequence.
func Verify(entries []model.AuditEntry) (bool, error) {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return false, fmt.Errorf("entry %d: prev_hash mismatch", i)
		}
		detailsJSON, err := json.Marshal(e.Details)
		if err != nil {
			return false, fmt.Errorf("entry %d: marshal details: %w", i, err)
		}
		want := computeHash(e.PrevHash, e.EventType, e.ExecutionID, detailsJSON, e.Timestamp)
		if want != e.Hash {
			return false, fmt.Errorf("entry %d: hash mismatch", i)
		}
		prevHash = e.Hash
	}
	return true, nil
}
