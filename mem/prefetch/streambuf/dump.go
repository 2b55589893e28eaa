package streambuf

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

func joinInts(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, " %d", id)
	}

	return b.String()
}

// Dump writes the full engine state.
func (e *Engine) Dump(w io.Writer, prefix string) {
	fmt.Fprintf(w, "%sid: %s core: %d\n", prefix, e.name, e.coreID)

	for _, st := range e.streams {
		fmt.Fprintf(w, "%sstream %d:\n", prefix, st.id)
		st.dump(w, prefix+"  ")
	}

	fmt.Fprintf(w, "%salloc_tries_since_last_age: %d\n", prefix, e.allocTries)
	fmt.Fprintf(w, "%srr_stream_predict: %d rr_stream_prefetch: %d\n", prefix,
		e.rrPredict, e.rrPrefetch)

	if d := e.deferred; d != nil {
		waiting := d.waiting.ToSlice()
		sort.Ints(waiting)
		fmt.Fprintf(w, "%sdeferred_import: next %d of %d, waiting on:%s\n",
			prefix, d.next, len(d.imports), joinInts(waiting))
	}
}

func (s *Stream) dump(w io.Writer, prefix string) {
	fmt.Fprintf(w, "%sallocd: %t", prefix, s.allocated)

	if !s.allocated {
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, " self_destructing: %t\n", s.selfDestructing)

	for i := range s.slots {
		sl := &s.slots[i]
		fmt.Fprintf(w, "%sentry %d:\n", prefix, i)
		fmt.Fprintf(w, "%s  state: %s base: %s excl: %t read: %t merge: %t"+
			" fetch: %d\n", prefix, sl.state, sl.baseAddr, sl.exclusive,
			sl.dataRead, sl.wasMerged, sl.fetchTime)
	}

	fmt.Fprintf(w, "%sents_free:%s\n", prefix, joinInts(s.free))
	fmt.Fprintf(w, "%sents_to_pf:%s\n", prefix, joinInts(s.pending))
	fmt.Fprintf(w, "%sstream_pred: %s\n", prefix, s.pred.format(s.cfg))
	fmt.Fprintf(w, "%salloc_time: %d alloc_pc: 0x%x master_id: %d\n", prefix,
		s.allocTime, s.allocPC, s.masterID)
	fmt.Fprintf(w, "%slast_va: 0x%x last_match_time: %d\n", prefix,
		s.lastVA, s.lastMatch)
}
