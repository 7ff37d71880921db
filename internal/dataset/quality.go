package dataset

import (
	"time"

	"replay/internal/domain"
)

// QualityReport summarises the structural health of a bar dataset.
type QualityReport struct {
	Rows               int       `json:"rows"`
	First              time.Time `json:"first_utc"`
	Last               time.Time `json:"last_utc"`
	Step               string    `json:"step"`
	DuplicateCount     int       `json:"duplicate_count"`
	NonStepCount       int       `json:"non_step_count"`
	MissingStepsTotal  int       `json:"missing_steps_total"`
	NegativePriceRows  int       `json:"negative_price_rows"`
	NegativeVolumeRows int       `json:"negative_volume_rows"`
	ZeroCloseRows      int       `json:"zero_close_rows"`
	Pass               bool      `json:"pass"`
}

// CheckQuality inspects raw bars against the expected step between
// consecutive timestamps. Duplicates are counted on the raw input; the
// remaining checks run on the canonical form. Rows counts canonical bars.
// Irregular steps alone do not fail the check, but the missing steps they
// imply do.
func CheckQuality(raw []domain.Bar, step time.Duration) QualityReport {
	bars := Canonicalize(raw)
	r := QualityReport{
		Rows:           len(bars),
		Step:           step.String(),
		DuplicateCount: len(raw) - len(bars),
	}
	if len(bars) > 0 {
		r.First = bars[0].Time
		r.Last = bars[len(bars)-1].Time
	}

	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			r.NegativePriceRows++
		}
		if b.Volume < 0 {
			r.NegativeVolumeRows++
		}
		if b.Close == 0 {
			r.ZeroCloseRows++
		}
		if i == 0 || step <= 0 {
			continue
		}
		gap := b.Time.Sub(bars[i-1].Time)
		if gap != step {
			r.NonStepCount++
		}
		if gap > step {
			r.MissingStepsTotal += int(gap/step) - 1
		}
	}

	r.Pass = r.DuplicateCount == 0 &&
		r.MissingStepsTotal == 0 &&
		r.NegativePriceRows == 0 &&
		r.NegativeVolumeRows == 0 &&
		r.ZeroCloseRows == 0
	return r
}
