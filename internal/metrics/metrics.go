// Package metrics reduces trade and equity ledgers to scalar performance
// aggregates.
package metrics

import (
	"math"

	"replay/internal/domain"
)

// maxProfitFactor stands in for an unbounded profit factor (no losing
// trades) so reports stay JSON encodable.
const maxProfitFactor = 999

// Report is the summary of one run.
type Report struct {
	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	TotalReturn   float64 `json:"total_return"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	NumTrades     int     `json:"num_trades"`
	NumCompleted  int     `json:"num_completed"`
	NumWins       int     `json:"num_wins"`
	AvgFees       float64 `json:"avg_fees"`
	TotalFees     float64 `json:"total_fees"`

	EndingEquity float64 `json:"ending_equity"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	ExitsSignal  int     `json:"exits_signal"`
	ExitsStop    int     `json:"exits_stop"`
	ExitsEOD     int     `json:"exits_eod"`
	Sharpe       float64 `json:"sharpe"`
}

// Summarize computes a Report from the ledgers of a run. FinalEquity is the
// last equity sample (initialEquity when there are none); EndingEquity also
// reflects the end-of-data liquidation recorded in the last trade.
func Summarize(initialEquity float64, trades []domain.Trade, equity []domain.EquitySample) Report {
	r := Report{
		InitialEquity: initialEquity,
		FinalEquity:   initialEquity,
		EndingEquity:  initialEquity,
		NumTrades:     len(trades),
	}
	if n := len(equity); n > 0 {
		r.FinalEquity = equity[n-1].Equity
		r.EndingEquity = r.FinalEquity
	}
	r.TotalReturn = r.FinalEquity - r.InitialEquity

	for _, s := range equity {
		if s.Drawdown > r.MaxDrawdown {
			r.MaxDrawdown = s.Drawdown
		}
	}

	var gain, loss float64
	for _, t := range trades {
		// Every ledger entry is closed; an exit reason marks completion.
		if t.Reason == "" {
			continue
		}
		r.NumCompleted++
		r.TotalFees += t.FeesTotal
		if t.GrossReturn > 0 {
			r.NumWins++
		}
		if t.NetPnL >= 0 {
			gain += t.NetPnL
		} else {
			loss -= t.NetPnL
		}
		switch t.Reason {
		case domain.ExitSignal:
			r.ExitsSignal++
		case domain.ExitStop:
			r.ExitsStop++
		case domain.ExitEOD:
			r.ExitsEOD++
		}
		r.EndingEquity = t.EquityAfter
	}

	if r.NumCompleted > 0 {
		r.AvgFees = r.TotalFees / float64(r.NumCompleted)
		r.WinRate = float64(r.NumWins) / float64(r.NumCompleted)
	}
	r.ProfitFactor = profitFactor(gain, loss)
	r.Sharpe = sharpe(equity)
	return r
}

// Map returns the report as a named scalar map.
func (r Report) Map() map[string]float64 {
	return map[string]float64{
		"initial_equity": r.InitialEquity,
		"final_equity":   r.FinalEquity,
		"total_return":   r.TotalReturn,
		"max_drawdown":   r.MaxDrawdown,
		"num_trades":     float64(r.NumTrades),
		"num_completed":  float64(r.NumCompleted),
		"num_wins":       float64(r.NumWins),
		"avg_fees":       r.AvgFees,
		"total_fees":     r.TotalFees,
		"ending_equity":  r.EndingEquity,
		"win_rate":       r.WinRate,
		"profit_factor":  r.ProfitFactor,
		"exits_signal":   float64(r.ExitsSignal),
		"exits_stop":     float64(r.ExitsStop),
		"exits_eod":      float64(r.ExitsEOD),
		"sharpe":         r.Sharpe,
	}
}

func profitFactor(gain, loss float64) float64 {
	if loss == 0 {
		if gain > 0 {
			return maxProfitFactor
		}
		return 0
	}
	return gain / loss
}

// sharpe is the mean over the sample standard deviation of per-bar equity
// returns, not annualised.
func sharpe(equity []domain.EquitySample) float64 {
	if len(equity) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		rets = append(rets, equity[i].Equity/prev-1)
	}
	if len(rets) < 2 {
		return 0
	}

	var mean float64
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))

	var ss float64
	for _, v := range rets {
		ss += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd
}
