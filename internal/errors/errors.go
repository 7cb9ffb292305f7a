// Package errors implements the runbook engine's fixed error taxonomy:
// classification of adapter/library errors into stable codes, and
// sanitization of error text before it reaches the audit log or API.
package errors

import (
	"regexp"
	"strings"
)

// Code is one of the fixed taxonomy values from the execution error model.
type Code string

const (
	ExecTimeout          Code = "EXEC_TIMEOUT"
	ExecCancelled        Code = "EXEC_CANCELLED"
	ExecValidationFailed Code = "EXEC_VALIDATION_FAILED"
	ExecStateInvalid     Code = "EXEC_STATE_INVALID"

	AdapterTimeout         Code = "ADAPTER_TIMEOUT"
	AdapterConnection      Code = "ADAPTER_CONNECTION"
	AdapterAuth            Code = "ADAPTER_AUTH"
	AdapterRateLimit       Code = "ADAPTER_RATE_LIMIT"
	AdapterNotFound        Code = "ADAPTER_NOT_FOUND"
	AdapterExecutionFailed Code = "ADAPTER_EXECUTION_FAILED"

	PlaybookNotFound  Code = "PLAYBOOK_NOT_FOUND"
	PlaybookInvalid   Code = "PLAYBOOK_INVALID"
	PlaybookStepFailed Code = "PLAYBOOK_STEP_FAILED"

	ApprovalTimeout Code = "APPROVAL_TIMEOUT"
	ApprovalDenied  Code = "APPROVAL_DENIED"
	ApprovalExpired Code = "APPROVAL_EXPIRED"

	// Reserved for future LLM-assisted classification steps; unused today.
	LLMUnavailable Code = "LLM_UNAVAILABLE"

	InternalError Code = "INTERNAL_ERROR"
	InvalidInput  Code = "INVALID_INPUT"
)

// retryable is the fixed retryability of each taxonomy code.
var retryable = map[Code]bool{
	AdapterTimeout:    true,
	AdapterConnection: true,
	AdapterRateLimit:  true,
}

// Classified is a taxonomy-coded error with a retryability flag.
type Classified struct {
	Code      Code
	Message   string
	Retryable bool
}

func (c *Classified) Error() string { return string(c.Code) + ": " + c.Message }

// patternRule matches a substring (case-insensitive) in an error message to a code.
type patternRule struct {
	pattern string
	code    Code
}

// Order matters: earlier rules win on a tie.
var rules = []patternRule{
	{"etimedout", AdapterTimeout},
	{"timeout", AdapterTimeout},
	{"econnrefused", AdapterConnection},
	{"econnreset", AdapterConnection},
	{"connection refused", AdapterConnection},
	{"connection reset", AdapterConnection},
	{"401", AdapterAuth},
	{"unauthorized", AdapterAuth},
	{"auth", AdapterAuth},
	{"429", AdapterRateLimit},
	{"rate limit", AdapterRateLimit},
	{"too many requests", AdapterRateLimit},
}

// Classify maps a raw adapter/library error message onto the fixed taxonomy.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	if c, ok := err.(*Classified); ok {
		return c
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if strings.Contains(msg, r.pattern) {
			return &Classified{Code: r.code, Message: err.Error(), Retryable: retryable[r.code]}
		}
	}
	return &Classified{Code: InternalError, Message: err.Error(), Retryable: retryable[InternalError]}
}

// New builds a Classified error with the taxonomy's fixed retryability for code.
func New(code Code, message string) *Classified {
	return &Classified{Code: code, Message: message, Retryable: retryable[code]}
}

var (
	pathPattern  = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
	framePattern = regexp.MustCompile(`(?m)^\s*at .+$|goroutine \d+.*|\.go:\d+.*`)
	identPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
)

// Sanitize strips filesystem paths, stack frames and raw pointer-style
// identifiers from an error message before it is persisted or surfaced.
func Sanitize(msg string) string {
	msg = framePattern.ReplaceAllString(msg, "[internal]")
	msg = pathPattern.ReplaceAllString(msg, "[internal]")
	msg = identPattern.ReplaceAllString(msg, "[internal]")
	return msg
}
