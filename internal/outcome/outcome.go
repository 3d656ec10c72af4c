// Package outcome carries results that may have been produced by a fallback
// path instead of the real provider. Callers inspect Degraded rather than
// relying on an error being swallowed somewhere below them.
package outcome

// Reason names why a value was produced by a fallback path.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonDemoMode       Reason = "demo_mode"
	ReasonProviderFailed Reason = "provider_failed"
	ReasonUnavailable    Reason = "provider_unavailable"
	ReasonTimedOut       Reason = "timed_out"
)

// Result is a value plus the reason it is a fallback, if any.
type Result[T any] struct {
	Value    T
	Degraded Reason
	Cause    error
}

// Real wraps a value produced by the real provider.
func Real[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Degrade wraps a fallback value with its reason and the error that forced it.
func Degrade[T any](v T, reason Reason, cause error) Result[T] {
	return Result[T]{Value: v, Degraded: reason, Cause: cause}
}

// IsDegraded reports whether the value came from a fallback path.
func (r Result[T]) IsDegraded() bool {
	return r.Degraded != ReasonNone
}

// Note describes a degradation for reporting.
type Note struct {
	Collaborator string `json:"collaborator"`
	Reason       Reason `json:"reason"`
	Detail       string `json:"detail,omitempty"`
}

// NoteFor returns a Note for a degraded result, or false when it is real.
func NoteFor[T any](collaborator string, r Result[T]) (Note, bool) {
	if !r.IsDegraded() {
		return Note{}, false
	}
	n := Note{Collaborator: collaborator, Reason: r.Degraded}
	if r.Cause != nil {
		n.Detail = r.Cause.Error()
	}
	return n, true
}
