// Package engine replays a bar sequence against a signal sequence and
// produces a trade ledger and an equity curve under fees, slippage and an
// intrabar stop-loss.
package engine

import (
	"log/slog"
	"time"

	"replay/internal/domain"
)

// Result holds the ledgers produced by one run.
type Result struct {
	Trades []domain.Trade
	Equity []domain.EquitySample

	// EndingEquity is the account value after end-of-data liquidation. It
	// differs from the last equity sample when a position was force-closed.
	EndingEquity float64
}

// Engine executes runs for a fixed configuration. It holds no per-run state,
// so one Engine may serve concurrent Run calls.
type Engine struct {
	cfg  Config
	stop StopRule
	log  *slog.Logger
}

// New validates cfg and returns an Engine. A nil logger discards output.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Timing, _ = ParseFillTiming(string(cfg.Timing))
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:  cfg,
		stop: NewStopRule(cfg.StopLossPct),
		log:  log,
	}, nil
}

// Run is a convenience wrapper that builds an Engine for cfg and runs it once.
func Run(bars []domain.Bar, signals domain.SignalSeries, cfg Config) (*Result, error) {
	e, err := New(cfg, nil)
	if err != nil {
		return nil, err
	}
	return e.Run(bars, signals)
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run validates the inputs and simulates every bar in order. On error no
// ledger is returned.
func (e *Engine) Run(bars []domain.Bar, signals domain.SignalSeries) (*Result, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}
	dirs, err := alignSignals(bars, signals)
	if err != nil {
		return nil, err
	}

	st := newState(e.cfg.InitialEquity, len(bars))
	for i := range bars {
		switch e.cfg.Timing {
		case TimingSameOpen:
			err = e.stepSameOpen(st, bars, dirs, i)
		default:
			err = e.stepNextOpen(st, bars, dirs, i)
		}
		if err != nil {
			return nil, err
		}
		st.record(bars[i].Time)
	}

	if err := e.liquidate(st, bars); err != nil {
		return nil, err
	}

	e.log.Debug("run complete",
		"bars", len(bars),
		"trades", len(st.trades),
		"ending_equity", st.equity,
	)
	return &Result{
		Trades:       st.trades,
		Equity:       st.curve,
		EndingEquity: st.equity,
	}, nil
}

// ---------------------------------------------------------------------------
// Run state
// ---------------------------------------------------------------------------

type actionKind int

const (
	actionNone actionKind = iota
	actionEntry
	actionExit
)

// action is an order scheduled for the next bar's open.
type action struct {
	kind     actionKind
	side     domain.Side // entries only
	decision time.Time   // entries only
}

// state is the mutable context of a single run. It is created by Run and
// never shared.
type state struct {
	equity  float64
	peak    float64
	open    *domain.OpenTrade
	pending action

	// lastExitBar is the index of the most recent exit, -1 before any.
	lastExitBar int

	trades []domain.Trade
	curve  []domain.EquitySample
}

func newState(initial float64, n int) *state {
	return &state{
		equity:      initial,
		peak:        initial,
		lastExitBar: -1,
		curve:       make([]domain.EquitySample, 0, n),
	}
}

func (st *state) record(ts time.Time) {
	if st.equity > st.peak {
		st.peak = st.equity
	}
	st.curve = append(st.curve, domain.EquitySample{
		Time:     ts,
		Equity:   st.equity,
		Peak:     st.peak,
		Drawdown: domain.Drawdown(st.peak, st.equity),
	})
}

// ---------------------------------------------------------------------------
// Per-bar steps
// ---------------------------------------------------------------------------

// stepNextOpen processes bar i under the deferred-fill contract: execute the
// order scheduled at the previous close, check the stop, then read this
// bar's signal to schedule the next order.
func (e *Engine) stepNextOpen(st *state, bars []domain.Bar, dirs []domain.Direction, i int) error {
	bar := bars[i]
	last := i == len(bars)-1

	switch st.pending.kind {
	case actionEntry:
		if st.open != nil {
			return &InvariantError{Bar: i, Op: "entry", Reason: "pending entry while a position is open"}
		}
		p := st.pending
		st.pending = action{}
		e.enter(st, bar, i, p.side, p.decision)
	case actionExit:
		if st.open == nil {
			return &InvariantError{Bar: i, Op: "exit", Reason: "pending exit with no open position"}
		}
		if err := e.exit(st, bar, i, domain.PhaseOpen, bar.Open, domain.ExitSignal); err != nil {
			return err
		}
	}

	if err := e.checkStop(st, bar, i); err != nil {
		return err
	}

	dir := dirs[i]
	if st.open == nil {
		side, ok := domain.SideFor(dir)
		if !ok {
			return nil
		}
		if !last {
			st.pending = action{kind: actionEntry, side: side, decision: bar.Time}
			return nil
		}
		// No next open exists. An exit already taken on this bar leaves no
		// room for a fresh entry at the same open.
		if st.lastExitBar == i {
			return nil
		}
		e.enter(st, bar, i, side, bar.Time)
		return e.checkStop(st, bar, i)
	}

	if !st.open.Side.Opposes(dir) || i-st.open.Entry.Bar < e.cfg.HoldMinBars {
		return nil
	}
	if !last {
		st.pending = action{kind: actionExit}
		return nil
	}
	return e.exit(st, bar, i, domain.PhaseClose, bar.Close, domain.ExitSignal)
}

// stepSameOpen processes bar i under the immediate-fill contract: the signal
// for bar i acts at open[i], exits first and gated by HoldMinBars, entries
// only on bars without an exit.
func (e *Engine) stepSameOpen(st *state, bars []domain.Bar, dirs []domain.Direction, i int) error {
	bar := bars[i]
	dir := dirs[i]

	exited := false
	if st.open != nil && i-st.open.Entry.Bar >= e.cfg.HoldMinBars && st.open.Side.Opposes(dir) {
		if err := e.exit(st, bar, i, domain.PhaseOpen, bar.Open, domain.ExitSignal); err != nil {
			return err
		}
		exited = true
	}

	if st.open == nil && !exited {
		if side, ok := domain.SideFor(dir); ok {
			e.enter(st, bar, i, side, bar.Time)
		}
	}

	return e.checkStop(st, bar, i)
}

// liquidate force-closes a position still open after the last bar at that
// bar's close.
func (e *Engine) liquidate(st *state, bars []domain.Bar) error {
	if st.pending.kind != actionNone {
		return &InvariantError{Bar: len(bars), Op: "liquidate", Reason: "order scheduled past the last bar"}
	}
	if st.open == nil {
		return nil
	}
	i := len(bars) - 1
	return e.exit(st, bars[i], i, domain.PhaseClose, bars[i].Close, domain.ExitEOD)
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

func (e *Engine) enter(st *state, bar domain.Bar, i int, side domain.Side, decision time.Time) {
	fill := domain.Fill{
		Time:     bar.Time,
		Bar:      i,
		Phase:    domain.PhaseOpen,
		RawPrice: bar.Open,
		Price:    entryPrice(side, bar.Open, e.cfg.SlippageSide),
	}

	before := st.equity
	fee := st.equity * e.cfg.FeeTaker
	st.equity -= fee

	st.open = &domain.OpenTrade{
		DecisionTime: decision,
		Side:         side,
		Entry:        fill,
		FeeEntry:     fee,
		EquityBefore: before,
		StopPrice:    e.stop.Price(side, fill.Price),
	}

	e.log.Debug("entry filled",
		"bar", i,
		"side", side,
		"price", fill.Price,
		"fee", fee,
		"equity", st.equity,
	)
}

// exit closes the open trade at raw (before slippage), applying the leg's
// return to equity and then the exit fee.
func (e *Engine) exit(st *state, bar domain.Bar, i int, phase domain.Phase, raw float64, reason domain.ExitReason) error {
	if st.open == nil {
		return &InvariantError{Bar: i, Op: "exit", Reason: "no open trade for " + string(reason) + " exit"}
	}
	t := st.open

	fill := domain.Fill{
		Time:     bar.Time,
		Bar:      i,
		Phase:    phase,
		RawPrice: raw,
		Price:    exitPrice(t.Side, raw, e.cfg.SlippageSide),
	}
	if !t.Entry.Before(fill) {
		return &InvariantError{Bar: i, Op: "exit", Reason: "exit does not follow entry"}
	}

	gross := grossReturn(t.Side, t.Entry.Price, fill.Price)
	st.equity *= 1 + gross
	fee := st.equity * e.cfg.FeeTaker
	st.equity -= fee

	st.trades = append(st.trades, t.Close(fill, fee, reason, gross, st.equity))
	st.open = nil
	st.pending = action{}
	st.lastExitBar = i

	e.log.Debug("exit filled",
		"bar", i,
		"reason", reason,
		"price", fill.Price,
		"gross_ret", gross,
		"fee", fee,
		"equity", st.equity,
	)
	return nil
}

// checkStop closes the open position at its stop level when bar's range
// reaches it.
func (e *Engine) checkStop(st *state, bar domain.Bar, i int) error {
	if st.open == nil {
		return nil
	}
	if !e.stop.Triggered(st.open.Side, st.open.StopPrice, bar) {
		return nil
	}
	return e.exit(st, bar, i, domain.PhaseIntrabar, st.open.StopPrice, domain.ExitStop)
}

func entryPrice(side domain.Side, raw, slip float64) float64 {
	if side == domain.SideShort {
		return raw * (1 - slip)
	}
	return raw * (1 + slip)
}

func exitPrice(side domain.Side, raw, slip float64) float64 {
	if side == domain.SideShort {
		return raw * (1 + slip)
	}
	return raw * (1 - slip)
}

func grossReturn(side domain.Side, entry, exit float64) float64 {
	if side == domain.SideShort {
		return entry/exit - 1
	}
	return exit/entry - 1
}
