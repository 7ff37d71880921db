package dataset

import (
	"path/filepath"
	"testing"
	"time"

	"replay/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(h int, close float64) domain.Bar {
	return domain.Bar{Time: t0.Add(time.Duration(h) * time.Hour), Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestCanonicalize(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	in := []domain.Bar{
		bar(2, 102),
		bar(0, 100),
		bar(1, 101),
		bar(0, 99),
	}
	in[2].Time = in[2].Time.In(loc)

	out := Canonicalize(in)
	if len(out) != 3 {
		t.Fatalf("got %d bars, want 3", len(out))
	}
	for i, b := range out {
		if !b.Time.Equal(t0.Add(time.Duration(i) * time.Hour)) {
			t.Errorf("bar %d at %v", i, b.Time)
		}
		if b.Time.Location() != time.UTC {
			t.Errorf("bar %d location = %v, want UTC", i, b.Time.Location())
		}
	}
	if out[0].Close != 99 {
		t.Errorf("duplicate resolution: close = %v, want last occurrence 99", out[0].Close)
	}
	if in[0].Close != 102 {
		t.Error("input modified")
	}
}

func TestCheckQualityClean(t *testing.T) {
	bars := []domain.Bar{bar(0, 1), bar(1, 2), bar(2, 3)}
	r := CheckQuality(bars, time.Hour)
	if !r.Pass {
		t.Fatalf("clean data failed: %+v", r)
	}
	if r.Rows != 3 || !r.First.Equal(t0) || !r.Last.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("rows/range = %d %v %v", r.Rows, r.First, r.Last)
	}
}

func TestCheckQualityIssues(t *testing.T) {
	bad := bar(5, 0)
	neg := bar(6, 7)
	neg.Volume = -1
	bars := []domain.Bar{bar(0, 1), bar(0, 1), bar(1, 2), bar(4, 3), bad, neg}

	r := CheckQuality(bars, time.Hour)
	if r.Pass {
		t.Fatal("expected failure")
	}
	if r.DuplicateCount != 1 {
		t.Errorf("duplicates = %d, want 1", r.DuplicateCount)
	}
	if r.NonStepCount != 1 {
		t.Errorf("non-step = %d, want 1", r.NonStepCount)
	}
	if r.MissingStepsTotal != 2 {
		t.Errorf("missing steps = %d, want 2", r.MissingStepsTotal)
	}
	if r.NegativePriceRows != 1 || r.ZeroCloseRows != 1 || r.NegativeVolumeRows != 1 {
		t.Errorf("price/zero/volume = %d/%d/%d, want 1/1/1", r.NegativePriceRows, r.ZeroCloseRows, r.NegativeVolumeRows)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	bars := []domain.Bar{bar(0, 1), bar(1, 2)}
	m := NewMeta("alpaca", "BTC/USD", "1h", bars, t0.Add(48*time.Hour))
	m.CanonicalPath = "data/bars.parquet"

	path := filepath.Join(t.TempDir(), "reports", "meta.json")
	if err := WriteJSON(path, m); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got Meta
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Rows != 2 || got.Symbol != "BTC/USD" || !got.LastTS.Equal(bars[1].Time) {
		t.Errorf("got %+v", got)
	}
}
