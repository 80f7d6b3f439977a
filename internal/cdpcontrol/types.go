package cdpcontrol

import (
	"encoding/json"
	"fmt"
)

const (
	CodeValidation     = "VALIDATION"
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// PageInfo describes a page target.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Value is the result of an evaluation, returned by value.
type Value struct {
	Type string
	Raw  json.RawMessage
}

// Text renders the value the way the bridge consumes it: strings as-is,
// undefined and null as "", anything else as JSON.
func (v Value) Text() string {
	switch v.Type {
	case "", "undefined":
		return ""
	case "string":
		var s string
		if err := json.Unmarshal(v.Raw, &s); err == nil {
			return s
		}
	}
	if len(v.Raw) == 0 || string(v.Raw) == "null" {
		return ""
	}
	return string(v.Raw)
}

// ConsoleEvent is a Runtime.consoleAPICalled notification.
type ConsoleEvent struct {
	Level   string
	Message string
	Source  string
	Line    int
}

// CrashEvent reports that the render process of a page went away.
type CrashEvent struct {
	// Crashed is false for other abnormal exits (killed, out of memory).
	Crashed bool
	Status  string
	// ExitCode is -1 when the browser did not report one.
	ExitCode int
}
