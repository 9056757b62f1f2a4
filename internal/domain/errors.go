package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecord is returned when a record added or patched by a caller
// has a date+time that does not parse or a source that is not known.
var ErrInvalidRecord = errors.New("invalid record")

// ProviderError reports a failed call to a single provider: a transport
// failure, a timeout, a non-success HTTP status, a provider-reported failure,
// or a structurally invalid payload.
type ProviderError struct {
	Provider Source
	Op       string
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AggregateError is returned when every provider failed in one fetch.
type AggregateError struct {
	Errors []*ProviderError
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "all providers failed: no providers configured"
	}
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = pe.Error()
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual provider errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe
	}
	return errs
}
