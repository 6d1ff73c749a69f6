package cil

import (
	"errors"
	"fmt"
	"strings"
)

// Problem is one field failure.
type Problem struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Example string `json:"example,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// ValidationError reports why a candidate is not a valid command. It is
// never a domain failure; the user is asked again.
type ValidationError struct {
	Type     Type
	Problems []Problem
	// Example is a full message that would have worked.
	Example string
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + " " + p.Problem
	}
	if e.Type == "" {
		return "invalid command: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(parts, "; "))
}

// OnlyMissing reports whether the sole problem is that field is absent.
func (e *ValidationError) OnlyMissing(field string) bool {
	return len(e.Problems) == 1 && e.Problems[0].Field == field && e.Problems[0].Missing
}

// Has reports whether field has a problem.
func (e *ValidationError) Has(field string) bool {
	for _, p := range e.Problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

var (
	// ErrNoHandler means the router's table has no entry for the type.
	ErrNoHandler = errors.New("no handler for command type")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError is a domain failure from dispatch. It unwraps to the
// handler's error so storage sentinels stay matchable.
type HandlerError struct {
	Type Type
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
