// Package provider holds the pieces shared by the generation provider
// adapters: the error classification the retry layer acts on, and the
// tolerant JSON extraction for structured provider responses.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass partitions provider failures for the retry layer.
type ErrorClass int

const (
	// ClassOther is any failure with no special retry handling: the caller
	// rotates to the next credential without retrying the current one.
	ClassOther ErrorClass = iota
	// ClassQuotaExhausted means the current credential is out of quota.
	// Terminal for the key, retryable at the pool level via rotation.
	ClassQuotaExhausted
	// ClassUnavailable is a transient overload; retried in place with
	// exponential backoff before rotating.
	ClassUnavailable
	// ClassInvalidResponse marks a malformed or incomplete provider
	// response. Terminal for the call, never retried.
	ClassInvalidResponse
)

// Error attaches an ErrorClass to an underlying provider error.
type Error struct {
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// QuotaExhausted wraps err as a per-key quota failure.
func QuotaExhausted(err error) error { return &Error{Class: ClassQuotaExhausted, Err: err} }

// Unavailable wraps err as a transient overload.
func Unavailable(err error) error { return &Error{Class: ClassUnavailable, Err: err} }

// InvalidResponse wraps err as a terminal malformed-response failure.
func InvalidResponse(err error) error { return &Error{Class: ClassInvalidResponse, Err: err} }

// Classify returns the class of err, or ClassOther if it carries none.
func Classify(err error) ErrorClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassOther
}

// ExtractJSON returns the JSON object embedded in a provider text response.
// Providers are asked for bare JSON but frequently wrap it in a markdown
// code fence; both forms are accepted. Anything else is a terminal
// invalid-response error, not a transient failure.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)

	if start := strings.Index(trimmed, "```"); start >= 0 {
		rest := trimmed[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}

	if !json.Valid([]byte(trimmed)) {
		return nil, InvalidResponse(fmt.Errorf("the AI returned an invalid JSON format"))
	}
	return json.RawMessage(trimmed), nil
}
