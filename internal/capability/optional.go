// Package capability models external collaborators that may or may not be
// configured. An absent collaborator produces one uniform "not configured"
// result instead of an error.
package capability

import "fmt"

// NotConfiguredResult is returned in place of a collaborator's normal result
// when the collaborator has no credentials.
type NotConfiguredResult struct {
	Error string `json:"error"`
	Setup string `json:"setup_instructions,omitempty"`
}

// Optional holds a collaborator of type T, or records why there is none.
type Optional[T any] struct {
	name    string
	value   T
	present bool
	hint    string
}

// Present wraps a configured collaborator.
func Present[T any](name string, v T) Optional[T] {
	return Optional[T]{name: name, value: v, present: true}
}

// Absent records a collaborator that is not configured. hint tells the user
// how to configure it.
func Absent[T any](name, hint string) Optional[T] {
	return Optional[T]{name: name, hint: hint}
}

// Name returns the collaborator's display name.
func (o Optional[T]) Name() string { return o.name }

// Get returns the collaborator and whether it is configured.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

// Configured reports whether the collaborator is present.
func (o Optional[T]) Configured() bool { return o.present }

// NotConfigured returns the uniform result for an absent collaborator.
func (o Optional[T]) NotConfigured() NotConfiguredResult {
	return NotConfiguredResult{
		Error: fmt.Sprintf("%s not configured", o.name),
		Setup: o.hint,
	}
}
