// Package faults defines the error taxonomy shared by the strategy core.
// Only ConfigError is fatal to a simulation run; every other condition is
// recovered where it occurs and surfaced through logs and metrics.
package faults

import (
	"errors"
	"fmt"
)

// ErrNonConvergence marks a solver result produced after the iteration cap
// was exhausted. The attached weights are still feasible.
var ErrNonConvergence = errors.New("solver did not converge")

// ErrMissingPrice is returned when a symbol has no usable price on a date.
var ErrMissingPrice = errors.New("missing price")

// ConfigError reports a malformed configuration or a reference to a symbol
// that does not exist in the supplied data.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Configf builds a ConfigError with a formatted reason.
func Configf(field string, value interface{}, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err wraps a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InsufficientDataError describes a computation that lacked observations and
// fell back to a documented default.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d, need %d", e.What, e.Have, e.Need)
}
