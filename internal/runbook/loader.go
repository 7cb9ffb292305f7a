// Package runbook loads declarative runbook documents from disk into an
// in-memory, read-only registry. Runbooks are immutable once loaded: the
// scheduler and queue executor only ever read through this registry, they
// never write back.
package runbook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/validation"
)

// Store is the in-memory runbook registry, keyed by runbook ID.
type Store struct {
	mu       sync.RWMutex
	runbooks map[string]*model.Runbook
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{runbooks: make(map[string]*model.Runbook)}
}

// LoadDir reads every *.json file in dir, validates it against v, and
// registers it. A single malformed file aborts the load with an error
// naming the offending file; partially-loaded state from earlier files
// in the same call is discarded.
func (s *Store) LoadDir(ctx context.Context, dir string, v *validation.Validator) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read runbook dir %s: %w", dir, err)
	}

	loaded := make(map[string]*model.Runbook, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read runbook file %s: %w", path, err)
		}

		var rb model.Runbook
		if err := json.Unmarshal(raw, &rb); err != nil {
			return fmt.Errorf("parse runbook file %s: %w", path, err)
		}
		if v != nil {
			if err := v.ValidateRunbook(ctx, raw, &rb); err != nil {
				return fmt.Errorf("validate runbook file %s: %w", path, err)
			}
		}
		loaded[rb.ID] = &rb
	}

	s.mu.Lock()
	for id, rb := range loaded {
		s.runbooks[id] = rb
	}
	s.mu.Unlock()
	return nil
}

// Put registers a single runbook directly, bypassing disk I/O; used by
// tests and by programmatic runbook submission.
func (s *Store) Put(rb *model.Runbook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runbooks[rb.ID] = rb
}

// GetRunbook implements the RunbookLookup interface the queue executor
// and HTTP layer depend on.
func (s *Store) GetRunbook(ctx context.Context, runbookID string) (*model.Runbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rb, ok := s.runbooks[runbookID]
	if !ok {
		return nil, fmt.Errorf("runbook not found: %s", runbookID)
	}
	return rb, nil
}

// List returns every loaded runbook.
func (s *Store) List() []*model.Runbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Runbook, 0, len(s.runbooks))
	for _, rb := range s.runbooks {
		out = append(out, rb)
	}
	return out
}
