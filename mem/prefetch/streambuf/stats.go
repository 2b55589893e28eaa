package streambuf

import (
	"fmt"
	"io"
	"math"
)

// BasicStat accumulates count, extremes, mean and deviation of a sample
// stream without keeping the samples.
type BasicStat struct {
	Count int64
	Sum   float64
	SumSq float64
	Min   float64
	Max   float64
}

// Add records one sample.
func (b *BasicStat) Add(v float64) {
	if b.Count == 0 || v < b.Min {
		b.Min = v
	}

	if b.Count == 0 || v > b.Max {
		b.Max = v
	}

	b.Sum += v
	b.SumSq += v * v
	b.Count++
}

// Mean returns the sample mean, or NaN with no samples.
func (b BasicStat) Mean() float64 {
	if b.Count == 0 {
		return math.NaN()
	}

	return b.Sum / float64(b.Count)
}

// StdDev returns the population standard deviation, or NaN with no samples.
func (b BasicStat) StdDev() float64 {
	if b.Count == 0 {
		return math.NaN()
	}

	mean := b.Mean()
	v := b.SumSq/float64(b.Count) - mean*mean

	if v < 0 {
		v = 0
	}

	return math.Sqrt(v)
}

func (b BasicStat) String() string {
	if b.Count == 0 {
		return "- (n=0)"
	}

	return fmt.Sprintf("%.0f/%.0f/%.0f (n=%d,sd=%.0f)",
		b.Min, b.Mean(), b.Max, b.Count, b.StdDev())
}

// ReplacedStreamStats samples each stream instance when it is replaced.
type ReplacedStreamStats struct {
	Replaced    int64
	Useless     int64
	Accesses    BasicStat
	Hits        BasicStat
	Prefetches  BasicStat
	FullWins    BasicStat
	PartialWins BasicStat
	AllWins     BasicStat
	Lifetime    BasicStat
}

// ImportStats counts migration imports. The Stream* counters are mutually
// exclusive per imported stream.
type ImportStats struct {
	GroupTotal             int64
	GroupRejected          int64
	StreamAcceptedPrompt   int64
	StreamAcceptedDeferred int64
	StreamRejectedTarget   int64
	StreamRejectedGroup    int64
}

// Stats are the engine's counters.
type Stats struct {
	Accesses int64
	Hits     int64

	PFReqsOK      int64
	PFReqsFailed  int64
	PFSkippedBusy int64
	PFUsed        int64

	FullWinTime    BasicStat
	PartialWinTime BasicStat
	AllWinTime     BasicStat
	PFServiceTime  BasicStat

	StreamAllocs int64

	PerStream ReplacedStreamStats
	Import    ImportStats
}

func pct(num, den int64) float64 {
	if den == 0 {
		return 0
	}

	return 100.0 * float64(num) / float64(den)
}

// Print writes the counters in a line-oriented text form, each line starting
// with prefix.
func (s *Stats) Print(w io.Writer, prefix string) {
	p := prefix

	fmt.Fprintf(w, "%saccesses: %d hits: %d %.2f%%\n", p,
		s.Accesses, s.Hits, pct(s.Hits, s.Accesses))
	fmt.Fprintf(w, "%spf_reqs_ok: %d failed: %d %.2f%% skipped_busy: %d\n", p,
		s.PFReqsOK, s.PFReqsFailed,
		pct(s.PFReqsFailed, s.PFReqsOK+s.PFReqsFailed), s.PFSkippedBusy)
	fmt.Fprintf(w, "%s  used: %d %.2f%% full_wins: %d %.2f%% "+
		"partial_wins: %d %.2f%%\n", p,
		s.PFUsed, pct(s.PFUsed, s.PFReqsOK),
		s.FullWinTime.Count, pct(s.FullWinTime.Count, s.PFReqsOK),
		s.PartialWinTime.Count, pct(s.PartialWinTime.Count, s.PFReqsOK))
	fmt.Fprintf(w, "%sfull_win_time: %s\n", p, s.FullWinTime)
	fmt.Fprintf(w, "%spartial_win_time: %s\n", p, s.PartialWinTime)
	fmt.Fprintf(w, "%sall_win_time: %s\n", p, s.AllWinTime)
	fmt.Fprintf(w, "%spf_service_time: %s\n", p, s.PFServiceTime)
	fmt.Fprintf(w, "%sstream_allocs: %d\n", p, s.StreamAllocs)

	ps := &s.PerStream
	fmt.Fprintf(w, "%sper-replaced-stream instance stats:\n", p)
	fmt.Fprintf(w, "%s  replaced: %d useless: %d %.2f%%\n", p,
		ps.Replaced, ps.Useless, pct(ps.Useless, ps.Replaced))
	fmt.Fprintf(w, "%s  accesses: %s\n", p, ps.Accesses)
	fmt.Fprintf(w, "%s  hits: %s\n", p, ps.Hits)
	fmt.Fprintf(w, "%s  prefetches: %s\n", p, ps.Prefetches)
	fmt.Fprintf(w, "%s  full_wins: %s\n", p, ps.FullWins)
	fmt.Fprintf(w, "%s  partial_wins: %s\n", p, ps.PartialWins)
	fmt.Fprintf(w, "%s  all_wins: %s\n", p, ps.AllWins)
	fmt.Fprintf(w, "%s  lifetime: %s\n", p, ps.Lifetime)

	im := &s.Import
	fmt.Fprintf(w, "%simport stats:\n", p)
	fmt.Fprintf(w, "%s  gr_total: %d gr_reject: %d\n", p,
		im.GroupTotal, im.GroupRejected)
	fmt.Fprintf(w, "%s  st_acc_prompt: %d st_acc_defer: %d\n", p,
		im.StreamAcceptedPrompt, im.StreamAcceptedDeferred)
	fmt.Fprintf(w, "%s  st_rej_targ: %d st_rej_group: %d\n", p,
		im.StreamRejectedTarget, im.StreamRejectedGroup)
}

func (s *Stats) recordReplaced(st *Stream, cycle int64) {
	ps := &s.PerStream
	ps.Replaced++

	if st.allWins() == 0 {
		ps.Useless++
	}

	ps.Accesses.Add(float64(st.accesses))
	ps.Hits.Add(float64(st.hits))
	ps.Prefetches.Add(float64(st.prefetches))
	ps.FullWins.Add(float64(st.fullWins))
	ps.PartialWins.Add(float64(st.partialWins))
	ps.AllWins.Add(float64(st.allWins()))
	ps.Lifetime.Add(float64(st.lifetime(cycle)))
}
