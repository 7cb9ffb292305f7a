package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNamespaces() Namespaces {
	return Namespaces{
		Alert: map[string]any{
			"id":       "alert-1",
			"severity": "high",
		},
		Steps: map[string]map[string]any{
			"collect-logs": {
				"output": map[string]any{
					"count": float64(42),
				},
			},
		},
		Context: map[string]any{
			"host": "web-01",
		},
		Env: func(k string) (string, bool) {
			if k == "REGION" {
				return "us-east-1", true
			}
			return "", false
		},
	}
}

func TestResolveString_EmbeddedSubstitution(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("host {{ context.host }} saw {{ alert.severity }} alert", ns)
	assert.Equal(t, "host web-01 saw high alert", got)
}

func TestResolveString_StandaloneExpressionPreservesType(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("{{ steps.collect-logs.output.count }}", ns)
	assert.Equal(t, float64(42), got)
}

func TestResolveString_MissingPathEmbedded(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("value={{ context.missing }}", ns)
	assert.Equal(t, "value=", got)
}

func TestResolveString_MissingPathStandalone(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("{{ context.missing }}", ns)
	assert.Nil(t, got)
}

func TestResolveString_Env(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("{{ env.REGION }}", ns)
	assert.Equal(t, "us-east-1", got)
}

func TestResolveParams_Recurses(t *testing.T) {
	ns := testNamespaces()
	params := map[string]any{
		"top": "{{ alert.id }}",
		"nested": map[string]any{
			"inner": "{{ context.host }}",
		},
		"list": []any{"{{ alert.severity }}", "literal"},
	}
	out := ResolveParams(params, ns)
	require.Equal(t, "alert-1", out["top"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "web-01", nested["inner"])
	list := out["list"].([]any)
	assert.Equal(t, []any{"high", "literal"}, list)
}

func TestResolveString_NoExpressionPassesThrough(t *testing.T) {
	ns := testNamespaces()
	got := ResolveString("plain string", ns)
	assert.Equal(t, "plain string", got)
}
