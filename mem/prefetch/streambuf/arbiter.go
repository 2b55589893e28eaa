package streambuf

// arbitrate picks the stream that gets a shared resource this cycle. Round
// robin takes the first ready stream from the cursor on, moving the cursor
// past every stream it probes. Priority takes the ready stream with the
// highest priority, breaking ties toward the latest tag match.
func (e *Engine) arbitrate(cursor *int, ready func(*Stream) bool) int {
	n := len(e.streams)

	if e.cfg.UseRoundRobinSched {
		for i := 0; i < n; i++ {
			id := *cursor
			*cursor = incrWrap(*cursor, n)

			if ready(e.streams[id]) {
				return id
			}
		}

		return -1
	}

	win := -1
	winPrio := -1
	winLast := int64(-1)

	for id, st := range e.streams {
		if !ready(st) {
			continue
		}

		prio := st.Priority()
		if win < 0 || prio > winPrio ||
			(prio == winPrio && st.lastMatch > winLast) {
			win = id
			winPrio = prio
			winLast = st.lastMatch
		}
	}

	return win
}

func (e *Engine) arbitrateForPredict() int {
	return e.arbitrate(&e.rrPredict, (*Stream).readyToPredict)
}

func (e *Engine) arbitrateForPrefetch() int {
	return e.arbitrate(&e.rrPrefetch, (*Stream).readyToPrefetch)
}

// replaceMatchLRU picks the first free stream, else the resettable stream
// whose last tag match is oldest.
func (e *Engine) replaceMatchLRU() int {
	vic := -1
	vicTime := int64(-1)

	for id, st := range e.streams {
		if !st.allocated {
			return id
		}

		if (vic < 0 || st.lastMatch < vicTime) && st.okToReset() {
			vic = id
			vicTime = st.lastMatch
		}
	}

	return vic
}

// replacePriority picks the first free stream, else the resettable stream
// with the lowest priority not above the miss's accuracy.
func (e *Engine) replacePriority(accuracy int) int {
	vic := -1
	vicPrio := -1

	for id, st := range e.streams {
		if !st.allocated {
			return id
		}

		prio := st.Priority()
		if (vic < 0 || prio < vicPrio) && prio <= accuracy && st.okToReset() {
			vic = id
			vicPrio = prio
		}
	}

	return vic
}
