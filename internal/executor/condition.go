package executor

import (
	"strconv"
	"strings"
)

// evalCondition evaluates a step's `condition` guard after template
// substitution has already replaced any {{ }} expressions in it. The
// grammar is deliberately restricted to literal booleans and the six
// comparison operators over number-or-string operands — not a general
// expression language, per the engine's safety design.
func evalCondition(cond string) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	switch strings.ToLower(cond) {
	case "true":
		return true
	case "false":
		return false
	}

	for _, op := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if idx := strings.Index(cond, op); idx >= 0 {
			left := strings.TrimSpace(cond[:idx])
			right := strings.TrimSpace(cond[idx+len(op):])
			return compare(left, right, op)
		}
	}

	// Not a recognized comparison or literal: fall back to non-empty
	// truthiness of the (already-substituted) string.
	return cond != ""
}

func compare(left, right, op string) bool {
	lf, lErr := strconv.ParseFloat(unquote(left), 64)
	rf, rErr := strconv.ParseFloat(unquote(right), 64)
	if lErr == nil && rErr == nil {
		switch op {
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		}
	}

	ls, rs := unquote(left), unquote(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	}
	return false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
