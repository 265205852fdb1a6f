package provider

import "errors"

// Error taxonomy for outbound provider calls. The orchestrator converts all
// of these into degraded or fallback replies; they are never surfaced raw to
// the patient-facing caller.
var (
	// ErrTimeout means the call exceeded its configured deadline.
	ErrTimeout = errors.New("provider: call timed out")

	// ErrUnavailable means the circuit breaker is open and the call was
	// rejected without reaching the provider.
	ErrUnavailable = errors.New("provider: unavailable (breaker open)")

	// ErrCall covers any other failure returned by the provider.
	ErrCall = errors.New("provider: call failed")
)
