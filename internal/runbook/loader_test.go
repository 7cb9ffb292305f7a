package runbook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/socrunbook/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRunbookFile(t *testing.T, dir, name string, rb model.Runbook) {
	t.Helper()
	raw, err := json.Marshal(rb)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func TestLoadDir_RegistersValidRunbooks(t *testing.T) {
	dir := t.TempDir()
	writeRunbookFile(t, dir, "collect.json", model.Runbook{
		ID: "collect-logs", Name: "Collect Logs", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "collect_logs"}},
	})

	store := NewStore()
	require.NoError(t, store.LoadDir(context.Background(), dir, nil))

	rb, err := store.GetRunbook(context.Background(), "collect-logs")
	require.NoError(t, err)
	assert.Equal(t, "Collect Logs", rb.Name)
}

func TestLoadDir_MalformedFileAborts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	store := NewStore()
	err := store.LoadDir(context.Background(), dir, nil)
	assert.Error(t, err)

	_, err = store.GetRunbook(context.Background(), "anything")
	assert.Error(t, err)
}

func TestGetRunbook_UnknownIDErrors(t *testing.T) {
	store := NewStore()
	_, err := store.GetRunbook(context.Background(), "missing")
	assert.Error(t, err)
}
