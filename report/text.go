package report

import (
	"io"
	"math"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/smtsim/pfsim/driver"
)

// TextOptions control the text report.
type TextOptions struct {
	Color bool

	// EngineStats adds every core's full stream-buffer counters.
	EngineStats bool
}

type textWriter struct {
	w       io.Writer
	p       *message.Printer
	heading *color.Color
	warn    *color.Color
}

func newTextWriter(w io.Writer, opt TextOptions) *textWriter {
	tw := &textWriter{
		w:       w,
		p:       message.NewPrinter(language.English),
		heading: color.New(color.FgCyan, color.Bold),
		warn:    color.New(color.FgYellow),
	}

	if !opt.Color {
		tw.heading.DisableColor()
		tw.warn.DisableColor()
	}

	return tw
}

func (tw *textWriter) section(title string) {
	tw.heading.Fprintf(tw.w, "== %s ==\n", title)
}

func (tw *textWriter) printf(format string, args ...any) {
	tw.p.Fprintf(tw.w, format, args...)
}

func formatMetric(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}

	return message.NewPrinter(language.English).Sprintf("%.2f", v)
}

// WriteText writes a human-readable report. The table may be nil.
func WriteText(w io.Writer, r driver.Result, t *Table, opt TextOptions) {
	tw := newTextWriter(w, opt)

	tw.section("run")
	tw.printf("cycles: %d\n", r.Cycles)

	if r.OutstandingPrefetches > 0 {
		tw.warn.Fprintf(w, "outstanding prefetches: %d\n",
			r.OutstandingPrefetches)
	}

	tw.printf("memory: demands %d prefetches %d demand_joins %d "+
		"prefetch_joins %d rejected_mshr %d rejected_busy %d\n",
		r.Mem.Demands, r.Mem.Prefetches, r.Mem.DemandJoins,
		r.Mem.PrefetchJoins, r.Mem.RejectedMSHRFull, r.Mem.RejectedPortBusy)

	if m := r.Migration; m.Migrations > 0 {
		tw.printf("migrations: %d streams_exported %d bits %d prompt %d "+
			"deferred %d rejected_at_target %d rejected_groups %d\n",
			m.Migrations, m.StreamsExported, m.BitsTransferred, m.Prompt,
			m.Deferred, m.RejectedAtTarget, m.RejectedGroups)
	}

	for _, c := range r.Cores {
		tw.section(tw.p.Sprintf("core %d", c.ID))

		if c.Thread >= 0 {
			tw.printf("thread: %d\n", c.Thread)
		}

		s := c.Stats
		tw.printf("accesses: %d l1_hits: %d stream_hits: %d "+
			"demand_misses: %d merged: %d stall_cycles: %d\n",
			s.Accesses, s.L1Hits, s.StreamHits, s.DemandMisses,
			s.MergedMisses, s.StallCycles)
		tw.printf("l1: hits %d misses %d evictions %d writebacks %d\n",
			c.L1.Hits, c.L1.Misses, c.L1.Evictions, c.L1.Writebacks)

		if opt.EngineStats {
			tw.printf("pfsg:\n")

			e := c.Engine
			e.Print(w, "  ")
		}
	}

	if t != nil {
		writeTable(tw, t)
	}
}

func writeTable(tw *textWriter, t *Table) {
	tw.section("metrics")

	width := len("metric")
	for _, m := range t.Metrics {
		width = max(width, len(m))
	}

	header := []string{pad("metric", width)}
	for _, c := range t.Cores {
		header = append(header, tw.p.Sprintf("%10s", tw.p.Sprintf("core%d", c)))
	}

	header = append(header, "      mean", "        sd", "       min", "    median",
		"       max")
	tw.printf("%s\n", strings.Join(header, " "))

	for m, name := range t.Metrics {
		row := []string{pad(name, width)}
		for c := range t.Cores {
			row = append(row, tw.p.Sprintf("%10s", formatMetric(t.Values[c][m])))
		}

		s := t.Summary[m]
		for _, v := range []float64{s.Mean, s.StdDev, s.Min, s.Median, s.Max} {
			row = append(row, tw.p.Sprintf("%10s", formatMetric(v)))
		}

		tw.printf("%s\n", strings.Join(row, " "))
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}

	return s + strings.Repeat(" ", width-len(s))
}
