// Package report presents simulation results: a text report, derived
// metrics, cross-core summaries, XLSX workbooks and a SQLite time series.
package report

import (
	"math"

	"github.com/casbin/govaluate"
	"github.com/pkg/errors"

	"github.com/smtsim/pfsim/driver"
)

// A MetricDef names an expression over a core's counters.
type MetricDef struct {
	Name       string
	Expression string
}

// DefaultMetrics are the metrics every report carries.
var DefaultMetrics = []MetricDef{
	{"l1_hit_rate", "100 * ratio(l1_hits, accesses)"},
	{"pfsg_hit_rate", "100 * ratio(pf_hits, pf_accesses)"},
	{"coverage", "100 * ratio(stream_hits + merged_misses, stream_hits + demand_misses)"},
	{"accuracy", "100 * ratio(pf_used, pf_reqs_ok)"},
	{"pf_fail_rate", "100 * ratio(pf_reqs_failed, pf_reqs_ok + pf_reqs_failed)"},
	{"useless_streams", "100 * ratio(streams_useless, streams_replaced)"},
	{"stall_per_access", "ratio(stall_cycles, accesses)"},
	{"mean_pf_service", "ratio(pf_service_sum, pf_service_count)"},
}

type metric struct {
	MetricDef
	expr *govaluate.EvaluableExpression
}

// An Evaluator computes a fixed list of metrics.
type Evaluator struct {
	metrics []metric
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return math.NaN()
	}
}

func evaluatorFunctions() map[string]govaluate.ExpressionFunction {
	functions := make(map[string]govaluate.ExpressionFunction)

	functions["ratio"] = func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errors.Errorf("ratio takes 2 arguments, got %d",
				len(args))
		}

		num, den := toFloat(args[0]), toFloat(args[1])
		if den == 0 {
			return 0.0, nil
		}

		return num / den, nil
	}

	functions["max"] = func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errors.Errorf("max takes 2 arguments, got %d",
				len(args))
		}

		return math.Max(toFloat(args[0]), toFloat(args[1])), nil
	}

	functions["min"] = func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errors.Errorf("min takes 2 arguments, got %d",
				len(args))
		}

		return math.Min(toFloat(args[0]), toFloat(args[1])), nil
	}

	return functions
}

// NewEvaluator parses the metric expressions.
func NewEvaluator(defs []MetricDef) (*Evaluator, error) {
	ev := &Evaluator{}
	functions := evaluatorFunctions()

	for _, d := range defs {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(
			d.Expression, functions)
		if err != nil {
			return nil, errors.Wrapf(err, "metric %s", d.Name)
		}

		ev.metrics = append(ev.metrics, metric{MetricDef: d, expr: expr})
	}

	return ev, nil
}

// Names returns the metric names in evaluation order.
func (ev *Evaluator) Names() []string {
	names := make([]string, len(ev.metrics))
	for i, m := range ev.metrics {
		names[i] = m.Name
	}

	return names
}

// Evaluate computes every metric from a set of variables.
func (ev *Evaluator) Evaluate(vars map[string]any) ([]float64, error) {
	out := make([]float64, len(ev.metrics))

	for i, m := range ev.metrics {
		v, err := m.expr.Evaluate(vars)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", m.Name)
		}

		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("metric %s is %T, not a number", m.Name,
				v)
		}

		out[i] = f
	}

	return out, nil
}

// Variables exposes a core's counters to metric expressions.
func Variables(c driver.CoreResult) map[string]any {
	f := func(n int64) float64 { return float64(n) }
	e := &c.Engine

	return map[string]any{
		"accesses":         f(c.Stats.Accesses),
		"l1_hits":          f(c.Stats.L1Hits),
		"stream_hits":      f(c.Stats.StreamHits),
		"demand_misses":    f(c.Stats.DemandMisses),
		"merged_misses":    f(c.Stats.MergedMisses),
		"stall_cycles":     f(c.Stats.StallCycles),
		"prefetch_fills":   f(c.Stats.PrefetchFills),
		"l1_misses":        f(c.L1.Misses),
		"l1_evictions":     f(c.L1.Evictions),
		"l1_writebacks":    f(c.L1.Writebacks),
		"pf_accesses":      f(e.Accesses),
		"pf_hits":          f(e.Hits),
		"pf_reqs_ok":       f(e.PFReqsOK),
		"pf_reqs_failed":   f(e.PFReqsFailed),
		"pf_skipped_busy":  f(e.PFSkippedBusy),
		"pf_used":          f(e.PFUsed),
		"full_wins":        f(e.FullWinTime.Count),
		"partial_wins":     f(e.PartialWinTime.Count),
		"pf_service_sum":   e.PFServiceTime.Sum,
		"pf_service_count": f(e.PFServiceTime.Count),
		"stream_allocs":    f(e.StreamAllocs),
		"streams_replaced": f(e.PerStream.Replaced),
		"streams_useless":  f(e.PerStream.Useless),
	}
}
