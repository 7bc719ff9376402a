// Package damage looks for radiation damage by following merging statistics
// as a function of accumulated dose rather than image number.
package damage

import (
	"math"
	"slices"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

const (
	// SignificantScore is the trend score above which damage is reported.
	SignificantScore = 3.0

	// rateTolerance is the largest ratio between dose rates in one group.
	rateTolerance = math.Sqrt2

	// cutoffSigmas is how far Scp must stray from the reference window to
	// suggest a dose cutoff.
	cutoffSigmas = 3.0
)

// Point is one batch placed on the dose axis.
type Point struct {
	Dose         float64
	Completeness float64
	Rmerge       float64
	Scp          float64
}

// Finding is the analysis of one wavelength within one dose-rate group.
type Finding struct {
	Group      int      `yaml:"group"`
	Wavelength float64  `yaml:"wavelength"`
	Sweeps     []string `yaml:"sweeps"`
	// Score is (population variance / linear-fit residual variance) / n of
	// the Rmerge-versus-dose series.
	Score   float64 `yaml:"score"`
	Damaged bool    `yaml:"damaged"`
	// DoseCutoff is the suggested maximum dose; valid when HasCutoff.
	DoseCutoff float64 `yaml:"dose_cutoff,omitempty"`
	HasCutoff  bool    `yaml:"has_cutoff"`
}

// Group clusters records by dose rate: records are taken in ascending rate
// and a new group starts whenever a rate exceeds the first rate of the
// current group by more than a factor of sqrt(2). Records without dose
// information are left out.
func Group(records []*sweep.Record) [][]*sweep.Record {
	var dosed []*sweep.Record
	for _, r := range records {
		if r.Dose.Known() {
			dosed = append(dosed, r)
		}
	}
	slices.SortStableFunc(dosed, func(a, b *sweep.Record) int {
		switch {
		case a.Dose.PerImage < b.Dose.PerImage:
			return -1
		case a.Dose.PerImage > b.Dose.PerImage:
			return 1
		}
		return 0
	})

	var groups [][]*sweep.Record
	var start float64
	for _, r := range dosed {
		if len(groups) == 0 || r.Dose.PerImage > start*rateTolerance {
			groups = append(groups, nil)
			start = r.Dose.PerImage
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
	}
	return groups
}

// Curve maps batch statistics belonging to records onto the dose axis,
// sorted by dose.
func Curve(records []*sweep.Record, stats []engine.BatchStat) []Point {
	var points []Point
	for _, s := range stats {
		for _, r := range records {
			if s.Batch < r.Batches.First || s.Batch > r.Batches.Last {
				continue
			}
			image := r.ImageOf(s.Batch) - r.Images.First + 1
			points = append(points, Point{
				Dose:         r.Dose.At(image),
				Completeness: s.Completeness,
				Rmerge:       s.Rmerge,
				Scp:          s.Scp,
			})
			break
		}
	}
	slices.SortStableFunc(points, func(a, b Point) int {
		switch {
		case a.Dose < b.Dose:
			return -1
		case a.Dose > b.Dose:
			return 1
		}
		return 0
	})
	return points
}

// Score returns (population variance / residual variance of a least-squares
// line) / n for y against x. A perfect linear trend scores +Inf; fewer than
// three points or a flat series score zero.
func Score(x, y []float64) float64 {
	n := len(x)
	if n < 3 || len(y) != n {
		return 0
	}

	meanX, meanY := mean(x), mean(y)
	var sxx, sxy float64
	for i := range x {
		sxx += (x[i] - meanX) * (x[i] - meanX)
		sxy += (x[i] - meanX) * (y[i] - meanY)
	}

	popVar := variance(y, meanY)
	if popVar == 0 {
		return 0
	}

	slope := 0.0
	if sxx > 0 {
		slope = sxy / sxx
	}
	intercept := meanY - slope*meanX

	var resid float64
	for i := range x {
		d := y[i] - (intercept + slope*x[i])
		resid += d * d
	}
	resid /= float64(n)
	if resid < 1e-12*popVar {
		return math.Inf(1)
	}
	return popVar / resid / float64(n)
}

// DoseCutoff compares Scp against the window of doses between 50% and 90%
// completeness and returns the first dose after the window whose Scp lies
// more than three standard deviations from the window mean.
func DoseCutoff(points []Point) (float64, bool) {
	d50, ok50 := doseAtCompleteness(points, 0.5)
	d90, ok90 := doseAtCompleteness(points, 0.9)
	if !ok50 || !ok90 {
		return 0, false
	}

	var window []float64
	for _, p := range points {
		if p.Dose >= d50 && p.Dose <= d90 {
			window = append(window, p.Scp)
		}
	}
	if len(window) < 2 {
		return 0, false
	}
	m := mean(window)
	sd := math.Sqrt(variance(window, m))

	for _, p := range points {
		if p.Dose <= d90 {
			continue
		}
		if math.Abs(p.Scp-m) > cutoffSigmas*sd {
			return p.Dose, true
		}
	}
	return 0, false
}

// Analyze groups records by dose rate and scores every wavelength in each
// group. Records without dose information are ignored; the result is empty
// when no record has any.
func Analyze(records []*sweep.Record, stats []engine.BatchStat) []Finding {
	var findings []Finding
	for g, group := range Group(records) {
		var wavelengths []float64
		for _, r := range group {
			if !slices.Contains(wavelengths, r.Wavelength) {
				wavelengths = append(wavelengths, r.Wavelength)
			}
		}

		for _, wl := range wavelengths {
			var members []*sweep.Record
			var names []string
			for _, r := range group {
				if r.Wavelength == wl {
					members = append(members, r)
					names = append(names, r.Name)
				}
			}

			points := Curve(members, stats)
			x := make([]float64, len(points))
			y := make([]float64, len(points))
			for i, p := range points {
				x[i], y[i] = p.Dose, p.Rmerge
			}

			f := Finding{
				Group:      g,
				Wavelength: wl,
				Sweeps:     names,
				Score:      Score(x, y),
			}
			f.Damaged = f.Score > SignificantScore
			f.DoseCutoff, f.HasCutoff = DoseCutoff(points)
			findings = append(findings, f)
		}
	}
	return findings
}

func doseAtCompleteness(points []Point, fraction float64) (float64, bool) {
	for _, p := range points {
		if p.Completeness >= fraction {
			return p.Dose, true
		}
	}
	return 0, false
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func variance(v []float64, m float64) float64 {
	var sum float64
	for _, x := range v {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(v))
}
