package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	Base
}

func newFakeAdapter(name string, actions ...string) *fakeAdapter {
	return &fakeAdapter{Base{AdapterName: name, AdapterVersion: "1.0.0", Actions: actions}}
}

func (f *fakeAdapter) Execute(ctx context.Context, action string, params map[string]any, mode ExecutionMode) (*Result, error) {
	return Success(map[string]any{"action": action}), nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	a := newFakeAdapter("edr", "isolate_host", "kill_process")
	require.NoError(t, r.Register(a))

	got, ok := r.Get("edr")
	require.True(t, ok)
	assert.Equal(t, "edr", got.Name())

	byAction, ok := r.GetForAction("isolate_host")
	require.True(t, ok)
	assert.Equal(t, "edr", byAction.Name())

	assert.Equal(t, 1, r.Size())
}

func TestRegistry_DuplicateRegisterFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeAdapter("edr", "kill_process")))
	err := r.Register(newFakeAdapter("edr", "kill_process"))
	assert.Error(t, err)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeAdapter("edr", "kill_process")))
	require.NoError(t, r.Unregister("edr"))

	_, ok := r.Get("edr")
	assert.False(t, ok)
	_, ok = r.GetForAction("kill_process")
	assert.False(t, ok)
}

func TestRegistry_GetForActionUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.GetForAction("no_such_action")
	assert.False(t, ok)
}

func TestRegistry_HealthCheckAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeAdapter("edr", "kill_process")))
	results := r.HealthCheckAll(context.Background())
	require.Len(t, results, 1)
	assert.NoError(t, results["edr"])
}

func TestBase_RollbackUnsupportedByDefault(t *testing.T) {
	a := newFakeAdapter("edr", "kill_process")
	err := a.Rollback(context.Background(), "kill_process", nil)
	assert.Error(t, err)
}
