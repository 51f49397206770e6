// Package errs defines the five error kinds the system distinguishes:
// transient, validation, structural and configuration failures, plus
// cancellation (modelled as plain context.Canceled, not a kind here). Call
// sites dispatch with errors.As instead of matching message text.
package errs

import "fmt"

// Transient wraps a failed price fetch or advisor call. Handled locally: the
// tick is skipped, or the advisor fallback is used. Never aborts a
// simulation.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient failure in operation op.
func NewTransient(op string, err error) *Transient {
	return &Transient{Op: op, Err: err}
}

// Validation wraps an advisor reply that named a parameter outside its
// documented safe range. It never aborts anything. The advisor client clamps
// such values and logs a warning naming the field; it does not construct
// this error, and no WARNING event reaches the Event Bus for a clamp.
type Validation struct {
	Field string
	Value float64
	Err   error
}

func (e *Validation) Error() string {
	return fmt.Sprintf("validation: field %q out of range (%v): %v", e.Field, e.Value, e.Err)
}
func (e *Validation) Unwrap() error { return e.Err }

// NewValidation reports that field's suggested value was out of range.
func NewValidation(field string, value float64, err error) *Validation {
	return &Validation{Field: field, Value: value, Err: err}
}

// Structural wraps a broken invariant (non-positive price, negative
// quantity, peak < current capital). Aborts the current simulation as
// failed.
type Structural struct {
	Invariant string
	Err       error
}

func (e *Structural) Error() string {
	return fmt.Sprintf("structural: invariant %q violated: %v", e.Invariant, e.Err)
}
func (e *Structural) Unwrap() error { return e.Err }

// NewStructural reports that invariant was violated.
func NewStructural(invariant string, err error) *Structural {
	return &Structural{Invariant: invariant, Err: err}
}

// Configuration wraps a missing or invalid required input at startup (e.g.
// symbol unset). Surfaced at the HTTP boundary as a client error; the agent
// never starts.
type Configuration struct {
	Field string
	Err   error
}

func (e *Configuration) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}
func (e *Configuration) Unwrap() error { return e.Err }

// NewConfiguration reports that field is missing or invalid.
func NewConfiguration(field string, err error) *Configuration {
	return &Configuration{Field: field, Err: err}
}
