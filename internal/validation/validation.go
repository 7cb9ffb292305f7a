// Package validation structurally validates runbooks before they are
// scheduled: JSON Schema checks for shape, plus DAG checks (unknown
// dependencies, cycles) that no schema language expresses well. Step
// parameter maps are not validated here.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/classifier"
	"github.com/socrunbook/engine/internal/model"
)

// runbookSchemaDoc is the structural schema every runbook document must
// satisfy before the engine will even attempt to build a DAG from it.
const runbookSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "version", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "config": {
      "type": "object",
      "properties": {
        "automation_level": {"enum": ["L0", "L1", "L2", ""]},
        "max_execution_time_ms": {"type": "integer", "minimum": 0},
        "requires_approval": {"type": "boolean"},
        "approval_timeout_ms": {"type": "integer", "minimum": 0},
        "parallel_execution": {"type": "boolean"},
        "rollback_on_failure": {"type": "boolean"}
      }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "on_error": {"enum": ["halt", "continue", "skip", ""]}
        }
      }
    }
  }
}`

// Validator validates runbook documents; it has no check for step
// parameter maps.
type Validator struct {
	runbookSchema *jsonschema.Schema
	resolver      adapter.Resolver
}

// New compiles the built-in runbook schema. resolver is consulted so a
// runbook naming an executor that was never registered, or naming an
// action its declared executor doesn't support, fails validation here
// rather than surfacing as an ADAPTER_NOT_FOUND error mid-run. A nil
// resolver skips the executor/action check (used where no registry
// exists yet, e.g. early schema-only validation).
func New(resolver adapter.Resolver) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("runbook.json", bytes.NewReader([]byte(runbookSchemaDoc))); err != nil {
		return nil, fmt.Errorf("add runbook schema resource: %w", err)
	}
	schema, err := compiler.Compile("runbook.json")
	if err != nil {
		return nil, fmt.Errorf("compile runbook schema: %w", err)
	}
	return &Validator{runbookSchema: schema, resolver: resolver}, nil
}

// ValidateRunbook checks a runbook's JSON shape, then its DAG: every
// depends_on must reference a known step, and the graph must be acyclic.
func (v *Validator) ValidateRunbook(ctx context.Context, raw []byte, rb *model.Runbook) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("runbook is not valid JSON: %w", err)
	}
	if err := v.runbookSchema.Validate(doc); err != nil {
		return fmt.Errorf("runbook schema validation failed: %w", err)
	}

	ids := make(map[string]bool, len(rb.Steps))
	for _, s := range rb.Steps {
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id: %s", s.ID)
		}
		ids[s.ID] = true
		if !classifier.Known(s.Action) {
			return fmt.Errorf("step %s: unknown action %q", s.ID, s.Action)
		}
		if v.resolver != nil {
			if _, err := adapter.ResolveStep(v.resolver, s.Adapter, s.Action); err != nil {
				return fmt.Errorf("step %s: %w", s.ID, err)
			}
		}
	}
	for _, s := range rb.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("step %s: depends_on unknown step %q", s.ID, dep)
			}
		}
	}
	if cycle := findCycle(rb); cycle != "" {
		return fmt.Errorf("runbook contains a dependency cycle involving step %q", cycle)
	}
	return nil
}

// findCycle returns the ID of a step involved in a cycle, or "" if the
// DAG is acyclic.
func findCycle(rb *model.Runbook) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(rb.Steps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		step, _ := rb.StepByID(id)
		for _, dep := range step.DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range rb.Steps {
		if color[s.ID] == white {
			if c := visit(s.ID); c != "" {
				return c
			}
		}
	}
	return ""
}
