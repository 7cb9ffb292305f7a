package adapter

import "context"

// Base is embedded by concrete adapters to supply the boilerplate parts
// of the Adapter contract (name/version/capabilities bookkeeping), so
// each integration only implements Execute and, where relevant,
// Rollback and ValidateParameters.
type Base struct {
	AdapterName    string
	AdapterVersion string
	Actions        []string
	Capacity       int
}

func (b *Base) Name() string              { return b.AdapterName }
func (b *Base) Version() string           { return b.AdapterVersion }
func (b *Base) SupportedActions() []string { return b.Actions }

func (b *Base) Initialize(ctx context.Context, config map[string]any) error { return nil }

func (b *Base) HealthCheck(ctx context.Context) error { return nil }

func (b *Base) GetCapabilities() Capabilities {
	cap := b.Capacity
	if cap == 0 {
		cap = 1
	}
	return Capabilities{MaxConcurrency: cap}
}

// Rollback default: most read-only or unsupported actions cannot be
// rolled back. Adapters that support rollback for specific actions
// override this method.
func (b *Base) Rollback(ctx context.Context, action string, rollbackData map[string]any) error {
	return unsupportedRollback(action)
}

// Success and Failure are convenience constructors mirroring the
// teacher's makeSuccess/makeFailure helpers, exported for adapters
// outside this package.
func Success(output map[string]any) *Result { return makeSuccess(output) }
func Failure(err error) *Result             { return makeFailure(err) }
