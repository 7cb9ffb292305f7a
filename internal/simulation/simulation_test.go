package simulation

import (
	"context"
	"testing"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/template"
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
	return adapter.Success(map[string]any{"ok": true}), nil
}

func TestRun_AllSuccessYieldsSuccessOutcome(t *testing.T) {
	resolver := &stubResolver{adapters: map[string]adapter.Adapter{
		"query_siem":   &okAdapter{adapter.Base{AdapterName: "siem", Actions: []string{"query_siem"}}},
		"isolate_host": &okAdapter{adapter.Base{AdapterName: "edr", Actions: []string{"isolate_host"}}},
	}}
	eng := New(resolver)

	steps := []model.Step{
		{ID: "s1", Action: "query_siem"},
		{ID: "s2", Action: "isolate_host", Rollback: &model.RollbackSpec{Action: "rejoin_host"}},
	}
	report := eng.Run(context.Background(), "exec-1", steps, template.Namespaces{})

	assert.Equal(t, model.OutcomeSuccess, report.PredictedOutcome)
	assert.True(t, report.Rollback.Available)
	require.Len(t, report.Steps, 2)
	assert.Greater(t, report.Steps[0].Confidence, report.Steps[1].Confidence)
}

func TestRun_MissingAdapterLowersConfidence(t *testing.T) {
	resolver := &stubResolver{adapters: map[string]adapter.Adapter{}}
	eng := New(resolver)
	steps := []model.Step{{ID: "s1", Action: "isolate_host"}}
	report := eng.Run(context.Background(), "exec-1", steps, template.Namespaces{})
	assert.Equal(t, model.OutcomeFailure, report.PredictedOutcome)
	assert.Equal(t, float64(1), report.OverallRiskScore)
	assert.Equal(t, float64(0), report.OverallConfidence)
	assert.False(t, report.Rollback.Available)
}
