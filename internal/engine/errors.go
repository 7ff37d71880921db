package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("input validation failed")
	ErrConfig     = errors.New("invalid engine configuration")
	ErrInvariant  = errors.New("engine invariant violated")
)

// ValidationError reports malformed or misaligned bars or signals. It is
// returned before any bar is simulated.
type ValidationError struct {
	Input  string // "bars" or "signals"
	Index  int    // offending element, -1 when not element specific
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Input, e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s[%d]: %s", ErrValidation, e.Input, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s[%d].%s: %s", ErrValidation, e.Input, e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigError reports an out-of-range engine parameter.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrConfig, e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// InvariantError means the engine reached a state its rules never produce,
// such as closing a trade while flat. The run is aborted.
type InvariantError struct {
	Bar    int
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: bar %d: %s: %s", ErrInvariant, e.Bar, e.Op, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }
