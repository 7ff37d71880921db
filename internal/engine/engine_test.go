package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"replay/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// flatBars returns n bars with open = high = low = close = price.
func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Time:   t0.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: 1,
		}
	}
	return bars
}

func signalsFor(bars []domain.Bar, dirs ...domain.Direction) domain.SignalSeries {
	out := make(domain.SignalSeries, len(dirs))
	for i, d := range dirs {
		out[i] = domain.Signal{Time: bars[i].Time, Direction: d}
	}
	return out
}

func frictionless(stop float64) Config {
	return Config{
		FeeTaker:      0,
		SlippageSide:  0,
		StopLossPct:   stop,
		InitialEquity: 1,
		OnePosition:   true,
		Timing:        TimingNextOpen,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

const (
	up   = domain.DirectionUp
	down = domain.DirectionDown
	flat = domain.DirectionFlat
)

func TestTwoBarsAlwaysUpIsOneTradeLiquidatedAtClose(t *testing.T) {
	bars := flatBars(2, 100)
	sig := signalsFor(bars, up, up)

	for _, timing := range []FillTiming{TimingNextOpen, TimingSameOpen} {
		cfg := frictionless(0.99)
		cfg.Timing = timing

		res, err := Run(bars, sig, cfg)
		if err != nil {
			t.Fatalf("%s: Run: %v", timing, err)
		}
		if len(res.Trades) != 1 {
			t.Fatalf("%s: got %d trades, want 1", timing, len(res.Trades))
		}
		tr := res.Trades[0]
		if tr.Entry.Price != 100 {
			t.Errorf("%s: entry price = %v, want 100", timing, tr.Entry.Price)
		}
		if tr.Exit.Price != 100 || tr.Exit.Bar != 1 || tr.Exit.Phase != domain.PhaseClose {
			t.Errorf("%s: exit = %+v, want close of bar 1 at 100", timing, tr.Exit)
		}
		if tr.Reason != domain.ExitEOD {
			t.Errorf("%s: reason = %q, want %q", timing, tr.Reason, domain.ExitEOD)
		}
		if tr.GrossReturn != 0 {
			t.Errorf("%s: gross return = %v, want 0", timing, tr.GrossReturn)
		}
	}
}

func TestEntryTimingPerFillContract(t *testing.T) {
	bars := flatBars(2, 100)
	sig := signalsFor(bars, up, up)

	cfg := frictionless(0.99)
	res, err := Run(bars, sig, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tr := res.Trades[0]
	if tr.Entry.Bar != 1 || !tr.Entry.Time.Equal(bars[1].Time) {
		t.Errorf("next_open entry at bar %d, want 1", tr.Entry.Bar)
	}
	if !tr.DecisionTime.Equal(bars[0].Time) {
		t.Errorf("decision time = %v, want %v", tr.DecisionTime, bars[0].Time)
	}

	cfg.Timing = TimingSameOpen
	res, err = Run(bars, sig, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Trades[0].Entry.Bar; got != 0 {
		t.Errorf("same_open entry at bar %d, want 0", got)
	}
}

func TestSingleBarStopOnEntryBar(t *testing.T) {
	bars := []domain.Bar{{Time: t0, Open: 100, High: 100, Low: 97, Close: 100, Volume: 1}}
	sig := signalsFor(bars, up)

	res, err := Run(bars, sig, frictionless(0.02))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if !approx(tr.StopPrice, 98) {
		t.Errorf("stop price = %v, want 98", tr.StopPrice)
	}
	if tr.Reason != domain.ExitStop {
		t.Errorf("reason = %q, want %q", tr.Reason, domain.ExitStop)
	}
	if !approx(tr.Exit.Price, 98) {
		t.Errorf("exit price = %v, want 98", tr.Exit.Price)
	}
	if tr.Exit.Phase != domain.PhaseIntrabar {
		t.Errorf("exit phase = %v, want intrabar", tr.Exit.Phase)
	}
}

func TestFeesChargedOnBothLegs(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	}
	sig := signalsFor(bars, up, down)
	cfg := frictionless(0.99)
	cfg.FeeTaker = 0.1

	for _, timing := range []FillTiming{TimingNextOpen, TimingSameOpen} {
		cfg.Timing = timing
		res, err := Run(bars, sig, cfg)
		if err != nil {
			t.Fatalf("%s: Run: %v", timing, err)
		}
		if len(res.Trades) == 0 {
			t.Fatalf("%s: no trades", timing)
		}
		for _, tr := range res.Trades {
			if tr.FeeEntry <= 0 || tr.FeeExit <= 0 {
				t.Errorf("%s: fees = (%v, %v), want both > 0", timing, tr.FeeEntry, tr.FeeExit)
			}
		}
	}
}

func TestOnePositionAcrossRepeatedSignals(t *testing.T) {
	bars := flatBars(3, 100)
	sig := signalsFor(bars, up, up, up)

	for _, timing := range []FillTiming{TimingNextOpen, TimingSameOpen} {
		cfg := frictionless(0.99)
		cfg.Timing = timing
		res, err := Run(bars, sig, cfg)
		if err != nil {
			t.Fatalf("%s: Run: %v", timing, err)
		}
		if len(res.Trades) != 1 {
			t.Errorf("%s: got %d trades, want 1", timing, len(res.Trades))
		}
	}
}

func TestStopFillsAtStopLevelNotOpen(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 100, Low: 95, Close: 99, Volume: 1},
		{Time: t0.Add(2 * time.Hour), Open: 99, High: 99, Low: 99, Close: 99, Volume: 1},
	}
	sig := signalsFor(bars, up, up, up)

	res, err := Run(bars, sig, frictionless(0.02))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) < 1 {
		t.Fatal("expected a stopped trade")
	}
	tr := res.Trades[0]
	if tr.Reason != domain.ExitStop {
		t.Fatalf("reason = %q, want stop", tr.Reason)
	}
	if !approx(tr.Exit.RawPrice, 98) || !approx(tr.Exit.Price, 98) {
		t.Errorf("exit = %v/%v, want 98", tr.Exit.RawPrice, tr.Exit.Price)
	}
	if tr.Exit.Bar != 1 {
		t.Errorf("exit bar = %d, want 1", tr.Exit.Bar)
	}
	// Flat after the stop with an Up signal at bar 1: re-entry at bar 2.
	if len(res.Trades) != 2 || res.Trades[1].Entry.Bar != 2 {
		t.Errorf("expected re-entry at bar 2, trades = %+v", res.Trades)
	}
}

func TestShortStopTriggersOnHigh(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 103, Low: 100, Close: 101, Volume: 1},
	}
	sig := signalsFor(bars, down, down)

	res, err := Run(bars, sig, frictionless(0.02))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Side != domain.SideShort || tr.Reason != domain.ExitStop {
		t.Fatalf("trade = %s/%s, want short/stop", tr.Side, tr.Reason)
	}
	if !approx(tr.Exit.Price, 102) {
		t.Errorf("exit price = %v, want 102", tr.Exit.Price)
	}
	if !approx(tr.GrossReturn, 100.0/102.0-1) {
		t.Errorf("gross return = %v, want %v", tr.GrossReturn, 100.0/102.0-1)
	}
}

func TestSlippageAppliedAgainstTrader(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(2 * time.Hour), Open: 110, High: 110, Low: 110, Close: 110, Volume: 1},
		{Time: t0.Add(3 * time.Hour), Open: 110, High: 110, Low: 110, Close: 110, Volume: 1},
	}
	cfg := frictionless(0.5)
	cfg.SlippageSide = 0.01

	res, err := Run(bars, signalsFor(bars, up, down, flat, flat), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	long := res.Trades[0]
	if !approx(long.Entry.Price, 101) {
		t.Errorf("long entry = %v, want 101", long.Entry.Price)
	}
	if !approx(long.Exit.Price, 110*0.99) {
		t.Errorf("long exit = %v, want %v", long.Exit.Price, 110*0.99)
	}

	res, err = Run(bars, signalsFor(bars, down, up, flat, flat), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	short := res.Trades[0]
	if !approx(short.Entry.Price, 99) {
		t.Errorf("short entry = %v, want 99", short.Entry.Price)
	}
	if !approx(short.StopPrice, 99*1.5) {
		t.Errorf("short stop = %v, want %v", short.StopPrice, 99*1.5)
	}
	if !approx(short.Exit.Price, 110*1.01) {
		t.Errorf("short exit = %v, want %v", short.Exit.Price, 110*1.01)
	}
}

func TestFeeCompounding(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 110, High: 110, Low: 110, Close: 110, Volume: 1},
		{Time: t0.Add(2 * time.Hour), Open: 120, High: 120, Low: 120, Close: 120, Volume: 1},
	}
	cfg := frictionless(0.5)
	cfg.FeeTaker = 0.01
	cfg.InitialEquity = 1000

	res, err := Run(bars, signalsFor(bars, up, down, flat), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]

	if !approx(tr.FeeEntry, 10) {
		t.Errorf("entry fee = %v, want 10", tr.FeeEntry)
	}
	// 990 grows by 120/110 to 1080, then pays 1% of that.
	if !approx(tr.FeeExit, 10.8) {
		t.Errorf("exit fee = %v, want 10.8", tr.FeeExit)
	}
	if !approx(tr.EquityAfter, 1069.2) {
		t.Errorf("equity after = %v, want 1069.2", tr.EquityAfter)
	}
	if !approx(tr.NetPnL, 69.2) || !approx(tr.NetReturn, 0.0692) {
		t.Errorf("net = %v (%v), want 69.2 (0.0692)", tr.NetPnL, tr.NetReturn)
	}
	if tr.Reason != domain.ExitSignal || tr.Exit.Bar != 2 || tr.BarsHeld != 1 {
		t.Errorf("exit = %s at bar %d held %d, want signal at bar 2 held 1", tr.Reason, tr.Exit.Bar, tr.BarsHeld)
	}

	wantEquity := []float64{1000, 990, 1069.2}
	for i, s := range res.Equity {
		if !approx(s.Equity, wantEquity[i]) {
			t.Errorf("equity[%d] = %v, want %v", i, s.Equity, wantEquity[i])
		}
	}
}

func TestLastBarSignalExitFillsAtClose(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(2 * time.Hour), Open: 104, High: 106, Low: 104, Close: 105, Volume: 1},
	}
	res, err := Run(bars, signalsFor(bars, up, up, down), frictionless(0.5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != domain.ExitSignal || tr.Exit.Phase != domain.PhaseClose || tr.Exit.Price != 105 {
		t.Errorf("exit = %s %v @ %v, want signal close @ 105", tr.Reason, tr.Exit.Phase, tr.Exit.Price)
	}
	// The last equity sample includes the close exit.
	if got := res.Equity[2].Equity; !approx(got, 1.05) {
		t.Errorf("last equity = %v, want 1.05", got)
	}
}

func TestLastBarStopLeavesNoRoomForEntry(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(2 * time.Hour), Open: 100, High: 100, Low: 90, Close: 92, Volume: 1},
	}
	res, err := Run(bars, signalsFor(bars, up, up, down), frictionless(0.05))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	if tr := res.Trades[0]; tr.Reason != domain.ExitStop || tr.Exit.Price != 95 {
		t.Errorf("exit = %s @ %v, want stop @ 95", tr.Reason, tr.Exit.Price)
	}
	if !approx(res.EndingEquity, 0.95) {
		t.Errorf("ending equity = %v, want 0.95", res.EndingEquity)
	}
}

func TestEODLiquidationNotInLastSample(t *testing.T) {
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: t0.Add(time.Hour), Open: 100, High: 112, Low: 100, Close: 110, Volume: 1},
	}
	res, err := Run(bars, signalsFor(bars, up, up), frictionless(0.5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Trades[0].Reason != domain.ExitEOD {
		t.Fatalf("reason = %q, want eod", res.Trades[0].Reason)
	}
	if got := res.Equity[1].Equity; got != 1 {
		t.Errorf("last sample equity = %v, want 1", got)
	}
	if !approx(res.EndingEquity, 1.1) {
		t.Errorf("ending equity = %v, want 1.1", res.EndingEquity)
	}
}

func TestHoldMinBarsGatesSignalExit(t *testing.T) {
	bars := flatBars(6, 100)
	cfg := frictionless(0.5)
	cfg.HoldMinBars = 2

	res, err := Run(bars, signalsFor(bars, up, down, down, down, flat, flat), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	// Entry at bar 1; bar 3 is the first close with two bars held, exit at bar 4's open.
	if tr.Entry.Bar != 1 || tr.Exit.Bar != 4 || tr.Reason != domain.ExitSignal {
		t.Errorf("trade bars %d->%d (%s), want 1->4 signal", tr.Entry.Bar, tr.Exit.Bar, tr.Reason)
	}
}

func TestSameOpenExitThenReverse(t *testing.T) {
	bars := flatBars(3, 100)
	cfg := frictionless(0.5)
	cfg.Timing = TimingSameOpen
	cfg.HoldMinBars = 1

	res, err := Run(bars, signalsFor(bars, up, down, down), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(res.Trades))
	}
	first, second := res.Trades[0], res.Trades[1]
	if first.Side != domain.SideLong || first.Entry.Bar != 0 || first.Exit.Bar != 1 || first.Reason != domain.ExitSignal {
		t.Errorf("first trade = %+v", first)
	}
	// No entry on the bar that exited; the short opens one bar later.
	if second.Side != domain.SideShort || second.Entry.Bar != 2 || second.Reason != domain.ExitEOD {
		t.Errorf("second trade = %+v", second)
	}
}

func TestSameOpenHoldGateBlocksEarlyExit(t *testing.T) {
	bars := flatBars(4, 100)
	cfg := frictionless(0.5)
	cfg.Timing = TimingSameOpen
	cfg.HoldMinBars = 12

	res, err := Run(bars, signalsFor(bars, up, down, down, down), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Reason != domain.ExitEOD {
		t.Errorf("trades = %+v, want a single eod trade", res.Trades)
	}
}

func TestUnmatchedBarsDefaultToFlat(t *testing.T) {
	bars := flatBars(4, 100)
	// Only bar 0 carries a signal. Bars 1.. are flat, so the long exits.
	sig := domain.SignalSeries{{Time: bars[0].Time, Direction: up}}

	res, err := Run(bars, sig, frictionless(0.5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	if tr := res.Trades[0]; tr.Entry.Bar != 1 || tr.Exit.Bar != 2 || tr.Reason != domain.ExitSignal {
		t.Errorf("trade bars %d->%d (%s), want 1->2 signal", tr.Entry.Bar, tr.Exit.Bar, tr.Reason)
	}
}

func TestEmptyInput(t *testing.T) {
	res, err := Run(nil, nil, frictionless(0.5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 || len(res.Equity) != 0 {
		t.Errorf("expected empty ledgers, got %d trades %d samples", len(res.Trades), len(res.Equity))
	}
	if res.EndingEquity != 1 {
		t.Errorf("ending equity = %v, want 1", res.EndingEquity)
	}
}

func TestExitWithoutPositionIsInvariantViolation(t *testing.T) {
	e, err := New(frictionless(0.5), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st := newState(1, 1)
	bar := flatBars(1, 100)[0]

	err = e.exit(st, bar, 0, domain.PhaseOpen, bar.Open, domain.ExitSignal)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("exit while flat: got %v, want ErrInvariant", err)
	}
	var ie *InvariantError
	if !errors.As(err, &ie) || ie.Bar != 0 {
		t.Errorf("expected *InvariantError at bar 0, got %#v", err)
	}
}

func TestPendingEntryWhileOpenIsInvariantViolation(t *testing.T) {
	e, err := New(frictionless(0.5), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bars := flatBars(2, 100)
	dirs := []domain.Direction{flat, flat}

	st := newState(1, 2)
	e.enter(st, bars[0], 0, domain.SideLong, bars[0].Time)
	st.pending = action{kind: actionEntry, side: domain.SideLong, decision: bars[0].Time}

	if err := e.stepNextOpen(st, bars, dirs, 1); !errors.Is(err, ErrInvariant) {
		t.Fatalf("got %v, want ErrInvariant", err)
	}
}

func TestEngineReuseIsIndependent(t *testing.T) {
	e, err := New(frictionless(0.02), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bars := flatBars(5, 100)
	sig := signalsFor(bars, up, flat, down, flat, up)

	first, err := e.Run(bars, sig)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := e.Run(bars, sig)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(first.Trades) != len(second.Trades) || first.EndingEquity != second.EndingEquity {
		t.Errorf("runs differ: %d/%v vs %d/%v", len(first.Trades), first.EndingEquity, len(second.Trades), second.EndingEquity)
	}
}
