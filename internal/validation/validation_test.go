package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, rb *model.Runbook) []byte {
	t.Helper()
	b, err := json.Marshal(rb)
	require.NoError(t, err)
	return b
}

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

func testResolver() adapter.Resolver {
	return &stubResolver{adapters: map[string]adapter.Adapter{
		"query_siem":   &okAdapter{adapter.Base{AdapterName: "siem", Actions: []string{"query_siem"}}},
		"isolate_host": &okAdapter{adapter.Base{AdapterName: "edr", Actions: []string{"isolate_host"}}},
	}}
}

func TestValidateRunbook_Valid(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{
			{ID: "s1", Action: "query_siem"},
			{ID: "s2", Action: "isolate_host", DependsOn: []string{"s1"}},
		},
	}
	require.NoError(t, v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb))
}

func TestValidateRunbook_UnknownDependency(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{
			{ID: "s1", Action: "query_siem", DependsOn: []string{"does-not-exist"}},
		},
	}
	err = v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb)
	assert.Error(t, err)
}

func TestValidateRunbook_Cycle(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{
			{ID: "s1", Action: "query_siem", DependsOn: []string{"s2"}},
			{ID: "s2", Action: "isolate_host", DependsOn: []string{"s1"}},
		},
	}
	err = v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb)
	assert.Error(t, err)
}

func TestValidateRunbook_UnknownAction(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "not_a_real_action"}},
	}
	err = v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb)
	assert.Error(t, err)
}

func TestValidateRunbook_UnregisteredExecutorFails(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "query_siem", Adapter: "not-registered"}},
	}
	err = v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestValidateRunbook_ExecutorActionMismatchFails(t *testing.T) {
	v, err := New(testResolver())
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "isolate_host", Adapter: "siem"}},
	}
	err = v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support action")
}

func TestValidateRunbook_NilResolverSkipsExecutorCheck(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)

	rb := &model.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Steps: []model.Step{{ID: "s1", Action: "query_siem", Adapter: "not-registered"}},
	}
	require.NoError(t, v.ValidateRunbook(context.Background(), mustJSON(t, rb), rb))
}
