// Package template resolves {{ namespace.path }} expressions against the
// four reserved namespaces of an execution: alert, steps, context and env.
// Resolution is pure and deterministic: it never mutates its inputs.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// exprPattern matches a single {{ ... }} expression, capturing its body.
var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Namespaces bundles the four reserved lookup roots for a single resolution.
type Namespaces struct {
	Alert   map[string]any
	Steps   map[string]map[string]any // stepID -> {"output": {...}}
	Context map[string]any
	Env     func(string) (string, bool)
}

// DefaultEnv looks values up via os.LookupEnv.
func DefaultEnv(key string) (string, bool) { return os.LookupEnv(key) }

// ResolveValue resolves a single value of arbitrary shape. Strings are
// scanned for {{ }} expressions; everything else passes through unchanged.
func ResolveValue(v any, ns Namespaces) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return ResolveString(s, ns)
}

// ResolveString resolves a string containing zero or more {{ }}
// expressions. If the whole string is exactly one expression, the raw
// (possibly non-string) resolved value is returned, or nil for a missing
// path. Otherwise each expression is substituted in place, with missing
// paths becoming "".
func ResolveString(s string, ns Namespaces) any {
	if m := exprPattern.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		val, found := lookup(m[1], ns)
		if !found {
			return nil
		}
		return val
	}

	return exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		body := exprPattern.FindStringSubmatch(match)[1]
		val, found := lookup(body, ns)
		if !found {
			return ""
		}
		return stringify(val)
	})
}

// ResolveParams resolves every value in a parameter map, recursing into
// nested maps and slices so templated values inside them are also resolved.
func ResolveParams(params map[string]any, ns Namespaces) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveAny(v, ns)
	}
	return out
}

func resolveAny(v any, ns Namespaces) any {
	switch t := v.(type) {
	case string:
		return ResolveString(t, ns)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = resolveAny(vv, ns)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = resolveAny(vv, ns)
		}
		return out
	default:
		return v
	}
}

func lookup(path string, ns Namespaces) (any, bool) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) < 2 {
		return nil, false
	}
	switch parts[0] {
	case "alert":
		return lookupMap(ns.Alert, parts[1:])
	case "context":
		return lookupMap(ns.Context, parts[1:])
	case "steps":
		if len(parts) < 3 {
			return nil, false
		}
		step, ok := ns.Steps[parts[1]]
		if !ok {
			return nil, false
		}
		return lookupMap(step, parts[2:])
	case "env":
		if ns.Env == nil {
			return nil, false
		}
		return ns.Env(strings.Join(parts[1:], "."))
	default:
		return nil, false
	}
}

func lookupMap(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, p := range path {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
