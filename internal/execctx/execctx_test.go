package execctx

import (
	"testing"

	"github.com/socrunbook/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *Context {
	return New("exec-1", "rb-1", "1.0.0", model.RunModeProduction, model.Alert{ID: "alert-1"})
}

func TestMarkStepCompleted_Idempotent(t *testing.T) {
	c := newTestContext()
	c.MarkStepCompleted("step-1")
	c.MarkStepCompleted("step-1")
	assert.True(t, c.StepCompleted("step-1"))
	assert.Len(t, c.CompletedSteps(), 1)
}

func TestMarkStepCompleted_ClearsMatchingCurrentStep(t *testing.T) {
	c := newTestContext()
	c.SetCurrentStep("step-1")
	c.MarkStepCompleted("step-1")
	assert.Empty(t, c.CurrentStep())
}

func TestMarkStepCompleted_LeavesDifferentCurrentStep(t *testing.T) {
	c := newTestContext()
	c.SetCurrentStep("step-2")
	c.MarkStepCompleted("step-1")
	assert.Equal(t, "step-2", c.CurrentStep())
}

func TestRestore_RejectsUnknownState(t *testing.T) {
	c := newTestContext()
	snap := c.Snapshot()
	snap.State = model.ExecutionState("bogus")
	assert.Error(t, c.Restore(snap))
}

func TestRestore_RejectsUnknownMode(t *testing.T) {
	c := newTestContext()
	snap := c.Snapshot()
	snap.Mode = model.RunMode("bogus")
	assert.Error(t, c.Restore(snap))
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c := newTestContext()
	c.SetCurrentStep("step-2")
	c.MarkStepCompleted("step-1")
	c.SetStepOutput("step-1", map[string]any{"count": float64(3)})
	c.SetVariable("region", "us-east-1")
	c.SetState(model.StateExecuting)

	snap := c.Snapshot()

	c.SetCurrentStep("step-3")
	c.MarkStepCompleted("step-2")
	c.SetVariable("region", "eu-west-1")
	c.SetState(model.StateFailed)

	require.NoError(t, c.Restore(snap))

	assert.Equal(t, "step-2", c.CurrentStep())
	assert.True(t, c.StepCompleted("step-1"))
	assert.False(t, c.StepCompleted("step-2"))
	region, ok := c.GetVariable("region")
	require.True(t, ok)
	assert.Equal(t, "us-east-1", region)
	assert.Equal(t, model.StateExecuting, c.State())

	ns := c.StepsNamespace()
	require.Contains(t, ns, "step-1")
	assert.Equal(t, float64(3), ns["step-1"]["output"].(map[string]any)["count"])
}
