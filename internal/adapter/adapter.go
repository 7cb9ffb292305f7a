// Package adapter defines the uniform adapter contract every integration
// (EDR, SIEM, ticketing, firewall, ...) implements, and an in-memory,
// statically-registered registry the scheduler resolves actions against.
//
// The registry here is a plain RWMutex-guarded map rather than the
// distributed, Redis-backed agent directory its teacher package uses:
// adapters are registered once at process composition time, not
// discovered dynamically across a cluster.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/socrunbook/engine/internal/model"
)

// ExecutionMode tells an adapter whether to actually perform an action or
// only predict its effect.
type ExecutionMode string

const (
	ModeLive       ExecutionMode = "live"
	ModeSimulation ExecutionMode = "simulation"
	ModeDryRun     ExecutionMode = "dry-run"
)

// Result is what an adapter returns from Execute.
type Result struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   error          `json:"-"`
}

// Capabilities describes what an adapter instance can do at runtime.
type Capabilities struct {
	MaxConcurrency int      `json:"max_concurrency"`
	SupportsRollback []string `json:"supports_rollback,omitempty"`
}

// Adapter is the uniform contract every integration implements.
type Adapter interface {
	Name() string
	Version() string
	SupportedActions() []string
	Initialize(ctx context.Context, config map[string]any) error
	Execute(ctx context.Context, action string, params map[string]any, mode ExecutionMode) (*Result, error)
	Rollback(ctx context.Context, action string, rollbackData map[string]any) error
	HealthCheck(ctx context.Context) error
	GetCapabilities() Capabilities
}

// ParameterValidator is implemented by adapters that can pre-flight
// validate parameters before a step is scheduled.
type ParameterValidator interface {
	ValidateParameters(action string, params map[string]any) error
}

func makeSuccess(output map[string]any) *Result {
	return &Result{Success: true, Output: output}
}

func makeFailure(err error) *Result {
	return &Result{Success: false, Error: err}
}

func unsupportedRollback(action string) error {
	return fmt.Errorf("adapter does not support rollback for action %q", action)
}

// Registry is the single-node registry of initialized adapters, indexed
// by name and reverse-indexed by supported action.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]Adapter
	byAction    map[string][]string // action -> adapter names
	registered  map[string]model.AdapterRegistration
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Adapter),
		byAction:   make(map[string][]string),
		registered: make(map[string]model.AdapterRegistration),
	}
}

// Register adds an adapter to the registry, indexing its supported actions.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.byName[name] = a
	for _, action := range a.SupportedActions() {
		r.byAction[action] = append(r.byAction[action], name)
	}
	r.registered[name] = model.AdapterRegistration{
		Name:             name,
		Version:          a.Version(),
		SupportedActions: a.SupportedActions(),
		RegisteredAt:     time.Now(),
	}
	return nil
}

// Unregister removes an adapter and its action index entries.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("adapter %q not registered", name)
	}
	for _, action := range a.SupportedActions() {
		r.byAction[action] = removeName(r.byAction[action], name)
	}
	delete(r.byName, name)
	delete(r.registered, name)
	return nil
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// GetForAction returns the first adapter registered for action, if any.
func (r *Registry) GetForAction(action string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byAction[action]
	if len(names) == 0 {
		return nil, false
	}
	return r.byName[names[0]], true
}

// List returns the registration records of every adapter, in no
// particular order (map iteration order).
func (r *Registry) List() []model.AdapterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AdapterRegistration, 0, len(r.registered))
	for _, reg := range r.registered {
		out = append(out, reg)
	}
	return out
}

// Size returns the number of registered adapters.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// HealthCheckAll runs HealthCheck against every registered adapter and
// returns the first error encountered per adapter name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	adapters := make(map[string]Adapter, len(r.byName))
	for k, v := range r.byName {
		adapters[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(adapters))
	for name, a := range adapters {
		results[name] = a.HealthCheck(ctx)
	}
	return results
}

// ShutdownAll best-effort tears down every registered adapter that
// supports it; adapters that don't implement a shutdown hook are skipped.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.byName))
	for _, a := range r.byName {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		if sd, ok := a.(interface{ Shutdown(context.Context) error }); ok {
			_ = sd.Shutdown(ctx)
		}
	}
}

// Resolver resolves an action (or a named adapter) at step-execution
// time; the scheduler and step executor depend on this narrow interface
// rather than the whole Registry so they can be tested against a fake.
type Resolver interface {
	GetForAction(action string) (Adapter, bool)
	Get(name string) (Adapter, bool)
}

// CreateResolver returns the registry itself as a Resolver.
func (r *Registry) CreateResolver() Resolver { return r }

// ResolveStep picks the adapter a step should run against. When
// adapterName (step.executor) is set, it must resolve by that exact
// name and that adapter must support action — a mismatch is an error,
// never a silent fallback to some other adapter registered for the same
// action. When adapterName is empty, it falls back to whichever adapter
// is registered for action.
func ResolveStep(r Resolver, adapterName, action string) (Adapter, error) {
	if adapterName != "" {
		a, ok := r.Get(adapterName)
		if !ok {
			return nil, fmt.Errorf("adapter %q not registered", adapterName)
		}
		if !supportsAction(a, action) {
			return nil, fmt.Errorf("adapter %q does not support action %q", adapterName, action)
		}
		return a, nil
	}
	a, ok := r.GetForAction(action)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for action %q", action)
	}
	return a, nil
}

func supportsAction(a Adapter, action string) bool {
	for _, act := range a.SupportedActions() {
		if act == action {
			return true
		}
	}
	return false
}
