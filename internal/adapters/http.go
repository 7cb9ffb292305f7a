// Package adapters provides the engine's built-in integration adapters:
// thin HTTP clients against external security tooling (EDR, SIEM,
// firewall, IAM, ticketing, notification, and general systems
// management endpoints), each implementing internal/adapter's Adapter
// contract via adapter.Base.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/socrunbook/engine/internal/adapter"
)

// httpAdapter POSTs the step parameters as a JSON object to baseURL/action and decodes
// the JSON response body as the step's output. In simulation mode, no
// request is sent: the adapter returns a synthetic "would call" result
// so the simulation engine's predicted_result reflects what a live call
// would target without producing any side effect.
type httpAdapter struct {
	adapter.Base
	baseURL string
	client  *http.Client
}

func newHTTPAdapter(name, version, baseURL string, actions []string) *httpAdapter {
	return &httpAdapter{
		Base:    adapter.Base{AdapterName: name, AdapterVersion: version, Actions: actions, Capacity: 8},
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *httpAdapter) Execute(ctx context.Context, action string, params map[string]any, mode adapter.ExecutionMode) (*adapter.Result, error) {
	if mode == adapter.ModeSimulation {
		return adapter.Success(map[string]any{
			"simulated": true,
			"adapter":   a.AdapterName,
			"action":    action,
			"target":    a.baseURL + "/" + action,
		}), nil
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	url := a.baseURL + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s call to %s: %w", a.AdapterName, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s authentication failed: status %d", a.AdapterName, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s rate limited: status %d", a.AdapterName, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s target not found: status %d", a.AdapterName, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s call failed: status %d body %s", a.AdapterName, resp.StatusCode, string(respBody))
	}

	var output map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &output); err != nil {
			output = map[string]any{"raw": string(respBody)}
		}
	}
	return adapter.Success(output), nil
}

func (a *httpAdapter) Rollback(ctx context.Context, action string, rollbackData map[string]any) error {
	body, err := json.Marshal(rollbackData)
	if err != nil {
		return fmt.Errorf("marshal rollback parameters: %w", err)
	}
	url := a.baseURL + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rollback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s rollback call: %w", a.AdapterName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s rollback failed: status %d", a.AdapterName, resp.StatusCode)
	}
	return nil
}

func (a *httpAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s health check: %w", a.AdapterName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s unhealthy: status %d", a.AdapterName, resp.StatusCode)
	}
	return nil
}

// NewSIEM builds the adapter handling read-only log/telemetry queries.
func NewSIEM(baseURL string) adapter.Adapter {
	return newHTTPAdapter("siem", "1.0.0", baseURL, []string{
		"collect_logs", "query_siem", "collect_network_traffic",
		"snapshot_memory", "collect_file_metadata", "calculate_hash",
	})
}

// NewThreatIntel builds the adapter handling enrichment lookups.
func NewThreatIntel(baseURL string) adapter.Adapter {
	return newHTTPAdapter("threat-intel", "1.0.0", baseURL, []string{
		"enrich_ioc", "check_reputation", "query_threat_feed",
	})
}

// NewEDR builds the adapter handling endpoint containment actions.
func NewEDR(baseURL string) adapter.Adapter {
	return newHTTPAdapter("edr", "1.0.0", baseURL, []string{
		"retrieve_edr_data", "isolate_host", "quarantine_file",
		"kill_process", "start_edr_scan", "delete_file",
	})
}

// NewFirewall builds the adapter handling network blocking actions.
func NewFirewall(baseURL string) adapter.Adapter {
	return newHTTPAdapter("firewall", "1.0.0", baseURL, []string{
		"block_ip", "block_domain", "add_firewall_rule", "remove_firewall_rule",
	})
}

// NewIAM builds the adapter handling identity containment actions.
func NewIAM(baseURL string) adapter.Adapter {
	return newHTTPAdapter("iam", "1.0.0", baseURL, []string{
		"disable_account", "reset_password", "revoke_session",
	})
}

// NewTicketing builds the adapter handling case management actions.
func NewTicketing(baseURL string) adapter.Adapter {
	return newHTTPAdapter("ticketing", "1.0.0", baseURL, []string{
		"create_ticket", "tag_resource", "update_case", "close_case",
	})
}

// NewNotify builds the adapter handling human-notification actions.
func NewNotify(baseURL string) adapter.Adapter {
	return newHTTPAdapter("notify", "1.0.0", baseURL, []string{
		"notify_slack", "notify_email", "notify_pagerduty",
	})
}

// NewSystemOps builds the adapter handling system remediation actions.
func NewSystemOps(baseURL string) adapter.Adapter {
	return newHTTPAdapter("system-ops", "1.0.0", baseURL, []string{
		"restart_service", "patch_system",
	})
}

// NewGeneric builds the adapter handling the generic http_request and
// wait actions that don't belong to any specific integration.
func NewGeneric(baseURL string) adapter.Adapter {
	return newHTTPAdapter("generic", "1.0.0", baseURL, []string{"http_request", "wait"})
}
