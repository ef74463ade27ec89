package tools

import "fmt"

// ErrToolUnavailable is returned when the model calls a tool that is not
// registered. The conversation continues with an error message in place
// of the tool result.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("Unknown function: %s", e.ToolName)
}

// ErrInvalidArguments is returned when a tool call's arguments are not
// a JSON object.
type ErrInvalidArguments struct {
	ToolName string
	Err      error
}

// Error implements the error interface.
func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.ToolName, e.Err)
}

// Unwrap returns the decoding error.
func (e *ErrInvalidArguments) Unwrap() error {
	return e.Err
}
