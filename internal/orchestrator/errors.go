package orchestrator

import "fmt"

// ValidationError is a bad request: unknown stage, invalid target, chat in
// a non-chat stage. Maps to HTTP 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PreflightError carries the required-capability failures that block a
// stage. Maps to HTTP 400 with the error list.
type PreflightError struct {
	Errors []string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight failed: %v", e.Errors)
}
