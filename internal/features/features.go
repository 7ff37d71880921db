// Package features derives look-ahead-free return and volatility features
// from a bar sequence.
package features

import (
	"math"
	"time"

	"replay/internal/domain"
)

// VolWindow is the number of one-bar returns in the rolling volatility.
const VolWindow = 24

// Row holds the features computed at the close of one bar. Every value uses
// only bars at or before Time.
type Row struct {
	Time  time.Time `json:"ts"`
	Close float64   `json:"close"`
	Ret1  float64   `json:"ret_1"`
	Ret4  float64   `json:"ret_4"`
	Ret24 float64   `json:"ret_24"`
	Vol24 float64   `json:"vol_24"`
}

// Build computes feature rows for bars, which must be in ascending time
// order. Bars too early to have every feature defined are omitted, so the
// first row belongs to bar index VolWindow.
func Build(bars []domain.Bar) []Row {
	if len(bars) <= VolWindow {
		return nil
	}

	ret1 := make([]float64, len(bars))
	for i := range bars {
		ret1[i] = pctChange(bars, i, 1)
	}

	rows := make([]Row, 0, len(bars)-VolWindow)
	for i := VolWindow; i < len(bars); i++ {
		r := Row{
			Time:  bars[i].Time,
			Close: bars[i].Close,
			Ret1:  ret1[i],
			Ret4:  pctChange(bars, i, 4),
			Ret24: pctChange(bars, i, 24),
			Vol24: stddev(ret1[i-VolWindow+1 : i+1]),
		}
		if !r.defined() {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// Index maps each row's timestamp to the row.
func Index(rows []Row) map[int64]Row {
	m := make(map[int64]Row, len(rows))
	for _, r := range rows {
		m[r.Time.UnixNano()] = r
	}
	return m
}

func (r Row) defined() bool {
	for _, v := range []float64{r.Close, r.Ret1, r.Ret4, r.Ret24, r.Vol24} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func pctChange(bars []domain.Bar, i, lag int) float64 {
	if i < lag {
		return math.NaN()
	}
	prev := bars[i-lag].Close
	if prev == 0 {
		return math.NaN()
	}
	return bars[i].Close/prev - 1
}

// stddev is the sample standard deviation; NaN for fewer than two values or
// any NaN input.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	var mean float64
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	var ss float64
	for _, v := range xs {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
