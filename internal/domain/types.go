// Package domain defines the core value types shared across the replay
// system: bars, signals, fills, trades and equity samples.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one OHLCV sample for a fixed interval. Time is the bar's identifying
// timestamp in UTC.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Direction is the categorical value a signal generator emits for a bar.
type Direction string

const (
	DirectionFlat Direction = "flat"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is one of the three known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionFlat, DirectionUp, DirectionDown:
		return true
	}
	return false
}

// ParseDirection converts "up", "down" or "flat" (case-insensitive) into a
// Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// Signal pairs a bar timestamp with the direction decided at that bar's close.
type Signal struct {
	Time      time.Time
	Direction Direction
}

// SignalSeries is an ordered sequence of signals, one per bar timestamp at most.
type SignalSeries []Signal

// Directions returns the series as a slice of directions.
func (s SignalSeries) Directions() []Direction {
	out := make([]Direction, len(s))
	for i, sig := range s {
		out[i] = sig.Direction
	}
	return out
}

// ---------------------------------------------------------------------------
// Positions and fills
// ---------------------------------------------------------------------------

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SideFor maps an Up/Down direction to the position side it opens. Flat has
// no side.
func SideFor(d Direction) (Side, bool) {
	switch d {
	case DirectionUp:
		return SideLong, true
	case DirectionDown:
		return SideShort, true
	}
	return "", false
}

// Opposes reports whether direction d calls for leaving a position on side s.
// Flat opposes both sides.
func (s Side) Opposes(d Direction) bool {
	switch s {
	case SideLong:
		return d == DirectionDown || d == DirectionFlat
	case SideShort:
		return d == DirectionUp || d == DirectionFlat
	}
	return false
}

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitSignal ExitReason = "signal"
	ExitStop   ExitReason = "stop"
	ExitEOD    ExitReason = "eod"
)

// Phase orders fills that happen within the same bar.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseIntrabar
	PhaseClose
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseIntrabar:
		return "intrabar"
	case PhaseClose:
		return "close"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase is the inverse of Phase.String. Unknown names map to PhaseOpen.
func ParsePhase(s string) Phase {
	switch s {
	case "intrabar":
		return PhaseIntrabar
	case "close":
		return PhaseClose
	}
	return PhaseOpen
}

// Fill is one executed leg. RawPrice is the bar or stop level the fill was
// derived from; Price includes slippage.
type Fill struct {
	Time     time.Time
	Bar      int
	Phase    Phase
	RawPrice float64
	Price    float64
}

// Before reports whether f happened strictly before g in event order.
func (f Fill) Before(g Fill) bool {
	if f.Bar != g.Bar {
		return f.Bar < g.Bar
	}
	return f.Phase < g.Phase
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// OpenTrade is a round trip whose entry leg has filled and whose exit has not.
type OpenTrade struct {
	DecisionTime time.Time
	Side         Side
	Entry        Fill
	FeeEntry     float64
	EquityBefore float64 // equity immediately before the entry fee
	StopPrice    float64
}

// Close finalises the trade. equityAfter is the equity after the exit leg's
// return and fee have been applied.
func (t OpenTrade) Close(exit Fill, feeExit float64, reason ExitReason, grossRet, equityAfter float64) Trade {
	netPnL := equityAfter - t.EquityBefore
	netRet := 0.0
	if t.EquityBefore > 0 {
		netRet = netPnL / t.EquityBefore
	}
	return Trade{
		DecisionTime: t.DecisionTime,
		Side:         t.Side,
		Entry:        t.Entry,
		FeeEntry:     t.FeeEntry,
		EquityBefore: t.EquityBefore,
		StopPrice:    t.StopPrice,
		Exit:         exit,
		FeeExit:      feeExit,
		Reason:       reason,
		GrossReturn:  grossRet,
		FeesTotal:    t.FeeEntry + feeExit,
		NetPnL:       netPnL,
		NetReturn:    netRet,
		BarsHeld:     exit.Bar - t.Entry.Bar,
		EquityAfter:  equityAfter,
	}
}

// Trade is a closed round trip. It is never modified after creation.
type Trade struct {
	DecisionTime time.Time
	Side         Side
	Entry        Fill
	FeeEntry     float64
	EquityBefore float64
	StopPrice    float64

	Exit        Fill
	FeeExit     float64
	Reason      ExitReason
	GrossReturn float64
	FeesTotal   float64
	NetPnL      float64
	NetReturn   float64
	BarsHeld    int
	EquityAfter float64
}

// ---------------------------------------------------------------------------
// Equity
// ---------------------------------------------------------------------------

// EquitySample is the account value recorded at the end of one bar.
type EquitySample struct {
	Time     time.Time
	Equity   float64
	Peak     float64
	Drawdown float64
}

// Drawdown returns the fractional retracement of equity from peak, or 0 when
// peak is not positive.
func Drawdown(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	return (peak - equity) / peak
}
