package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEDR_Execute_LiveCallsBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/isolate_host", r.URL.Path)
		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "web-01", params["host"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"isolated": true})
	}))
	defer srv.Close()

	edr := NewEDR(srv.URL)
	result, err := edr.Execute(context.Background(), "isolate_host", map[string]any{"host": "web-01"}, adapter.ModeLive)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Output["isolated"])
}

func TestEDR_Execute_SimulationModeNeverCallsOut(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	edr := NewEDR(srv.URL)
	result, err := edr.Execute(context.Background(), "isolate_host", map[string]any{"host": "web-01"}, adapter.ModeSimulation)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, called)
	assert.Equal(t, true, result.Output["simulated"])
}

func TestEDR_Execute_AuthFailureIsNonRetryableShaped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	edr := NewEDR(srv.URL)
	_, err := edr.Execute(context.Background(), "isolate_host", map[string]any{"host": "web-01"}, adapter.ModeLive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestFirewall_SupportedActionsMatchClassifier(t *testing.T) {
	fw := NewFirewall("http://firewall.local")
	assert.ElementsMatch(t, []string{"block_ip", "block_domain", "add_firewall_rule", "remove_firewall_rule"}, fw.SupportedActions())
}
