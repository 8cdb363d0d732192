package tools

import "fmt"

// ErrorKind classifies a failed tool execution.
type ErrorKind string

const (
	ErrUnknownTool      ErrorKind = "unknown_tool"
	ErrInvalidArguments ErrorKind = "invalid_arguments"
	ErrNotFound         ErrorKind = "not_found"
	ErrStoreFailure     ErrorKind = "store_failure"
)

// ToolError is the structured failure of a tool. It is returned as data,
// never thrown.
type ToolError struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the outcome of one execution: Data on success, Error otherwise.
type Result struct {
	Data  any        `json:"data,omitempty"`
	Error *ToolError `json:"error,omitempty"`
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool { return r.Error == nil }

func success(data any) Result { return Result{Data: data} }

func failure(kind ErrorKind, format string, args ...any) Result {
	return Result{Error: &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}
