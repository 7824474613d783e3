package selector

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is matched by every NoMatchError.
	ErrNoMatch = errors.New("no matching tool")

	// ErrMalformedSelection is matched by every MalformedSelectionError.
	ErrMalformedSelection = errors.New("malformed tool selection")
)

// NoMatchError reports that the model decided no tool fits the query.
type NoMatchError struct {
	Reason string
}

func (e *NoMatchError) Error() string {
	return "tool selection failed: " + e.Reason
}

func (e *NoMatchError) Is(target error) bool { return target == ErrNoMatch }

// MalformedSelectionError reports model output that is not the expected
// selection object. Raw holds the model output.
type MalformedSelectionError struct {
	Raw string
	Err error
}

func (e *MalformedSelectionError) Error() string {
	return fmt.Sprintf("could not parse tool selection: %v", e.Err)
}

func (e *MalformedSelectionError) Is(target error) bool { return target == ErrMalformedSelection }

func (e *MalformedSelectionError) Unwrap() error { return e.Err }

// CompletionError wraps a failed completion call made during selection.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("tool selection request failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }
