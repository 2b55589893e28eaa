package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/smtsim/pfsim/driver"
)

// A Summary describes one metric across cores.
type Summary struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Median float64
	Max    float64
}

// Summarize computes a Summary, skipping NaN samples.
func Summarize(xs []float64) Summary {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}

	s := Summary{N: len(vals)}
	if s.N == 0 {
		nan := math.NaN()
		s.Mean, s.StdDev, s.Min, s.Median, s.Max = nan, nan, nan, nan, nan

		return s
	}

	sort.Float64s(vals)

	s.Mean = stat.Mean(vals, nil)
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)

	if s.N > 1 {
		s.StdDev = stat.StdDev(vals, nil)
	}

	return s
}

// A Table holds the derived metrics of every core and their summaries.
type Table struct {
	Metrics []string
	Cores   []int

	// Values is indexed by core, then metric.
	Values  [][]float64
	Summary []Summary
}

// BuildTable evaluates every metric on every core.
func BuildTable(ev *Evaluator, r driver.Result) (*Table, error) {
	t := &Table{Metrics: ev.Names()}

	for _, c := range r.Cores {
		vals, err := ev.Evaluate(Variables(c))
		if err != nil {
			return nil, err
		}

		t.Cores = append(t.Cores, c.ID)
		t.Values = append(t.Values, vals)
	}

	column := make([]float64, len(t.Values))

	for m := range t.Metrics {
		for c := range t.Values {
			column[c] = t.Values[c][m]
		}

		t.Summary = append(t.Summary, Summarize(column))
	}

	return t, nil
}
