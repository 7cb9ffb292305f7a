// Package classifier implements the static, total, disjoint read/write
// partition over the runbook engine's action symbols.
package classifier

// Kind is the classification of an action: it either reads state or
// writes (mutates) state in the environment the action targets.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// readActions never mutate external state and are safe to auto-execute
// under L1 autonomy.
var readActions = map[string]bool{
	"collect_logs":            true,
	"query_siem":               true,
	"collect_network_traffic": true,
	"snapshot_memory":          true,
	"collect_file_metadata":    true,
	"enrich_ioc":               true,
	"check_reputation":         true,
	"query_threat_feed":        true,
	"retrieve_edr_data":        true,
	"calculate_hash":           true,
	"http_request":             true,
	"wait":                     true,
}

// writeActions mutate external state. The scheduler gates them by
// automation level: L0 records them as planned without executing, L1
// executes them directly, and L2 (or an approval_required/
// requires_approval override) routes them through simulation and approval.
var writeActions = map[string]bool{
	"isolate_host":          true,
	"block_ip":              true,
	"disable_account":       true,
	"quarantine_file":       true,
	"kill_process":          true,
	"start_edr_scan":        true,
	"create_ticket":         true,
	"notify_slack":          true,
	"notify_email":          true,
	"notify_pagerduty":      true,
	"reset_password":        true,
	"revoke_session":        true,
	"delete_file":           true,
	"block_domain":          true,
	"add_firewall_rule":     true,
	"remove_firewall_rule":  true,
	"tag_resource":          true,
	"update_case":           true,
	"close_case":            true,
	"restart_service":       true,
	"patch_system":          true,
}

// Classify returns the Kind for a known action and whether it was found.
func Classify(action string) (Kind, bool) {
	if readActions[action] {
		return KindRead, true
	}
	if writeActions[action] {
		return KindWrite, true
	}
	return "", false
}

// IsRead reports whether action is a known read action.
func IsRead(action string) bool { return readActions[action] }

// IsWrite reports whether action is a known write action.
func IsWrite(action string) bool { return writeActions[action] }

// Known reports whether action is registered in either partition.
func Known(action string) bool { return readActions[action] || writeActions[action] }
