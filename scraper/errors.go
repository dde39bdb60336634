package scraper

import "fmt"

type FetchErrorKind string

const (
	Unreachable FetchErrorKind = "unreachable"
	Blocked     FetchErrorKind = "blocked"
)

// FetchError is returned for every failed fetch; a fetch never yields a
// partial page.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError means the structured data block was present but unusable.
// Callers treat it as an empty result.
type ExtractError struct {
	Reason string
	Err    error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed page: %s: %v", e.Reason, e.Err)
	}
	return "malformed page: " + e.Reason
}

func (e *ExtractError) Unwrap() error { return e.Err }
