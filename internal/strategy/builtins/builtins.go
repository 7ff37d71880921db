// Package builtins provides the signal generators that ship with replay.
package builtins

import (
	"replay/internal/strategy"
)

// Names of the built-in strategies.
const (
	AlwaysUpName = "always-up"
	YdayName     = "yday-eq-today"
	MomentumName = "momentum-v1"
	FlatName     = "flat-v2"
)

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(AlwaysUp{})
	r.Register(YesterdayEqualsToday{})
	r.Register(MomentumV1{})
	r.Register(FlatV2{})
}

// Registry returns a new registry holding the built-in strategies.
func Registry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
