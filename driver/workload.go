package driver

import (
	"bufio"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// An Access is one memory instruction of a thread.
type Access struct {
	PC    uint64
	VA    uint64
	Write bool
}

// A Workload produces a thread's accesses in program order.
type Workload interface {
	// Next returns the next access, or false once the workload is done.
	Next() (Access, bool)
}

// A StrideStream is one strided access pattern inside a synthetic workload.
type StrideStream struct {
	PC     uint64
	Base   uint64
	Stride int64

	// Length is the number of accesses before the pattern restarts at
	// Base. Zero never restarts.
	Length int64

	// WriteEvery makes every n-th access of the pattern a store. Zero
	// never stores.
	WriteEvery int64

	pos int64
}

func (s *StrideStream) next() Access {
	a := Access{
		PC: s.PC,
		VA: uint64(int64(s.Base) + s.pos*s.Stride),
	}

	s.pos++
	if s.WriteEvery > 0 && s.pos%s.WriteEvery == 0 {
		a.Write = true
	}

	if s.Length > 0 && s.pos >= s.Length {
		s.pos = 0
	}

	return a
}

// StridedWorkload interleaves a set of stride streams with random noise
// accesses.
type StridedWorkload struct {
	streams  []StrideStream
	noise    float64
	limit    int64
	issued   int64
	turn     int
	rng      *rand.Rand
	noisePCs []uint64
}

// NewStridedWorkload creates a synthetic workload. noise is the fraction of
// accesses that go to random addresses from random PCs. limit bounds the
// number of accesses; zero means no bound.
func NewStridedWorkload(
	streams []StrideStream,
	noise float64,
	limit int64,
	seed int64,
) *StridedWorkload {
	w := &StridedWorkload{
		streams: append([]StrideStream(nil), streams...),
		noise:   noise,
		limit:   limit,
		rng:     rand.New(rand.NewSource(seed)),
	}

	for i := 0; i < 8; i++ {
		w.noisePCs = append(w.noisePCs, 0x7f0000+uint64(i)*4)
	}

	return w
}

// Next returns the next access.
func (w *StridedWorkload) Next() (Access, bool) {
	if w.limit > 0 && w.issued >= w.limit {
		return Access{}, false
	}

	w.issued++

	if len(w.streams) == 0 || w.rng.Float64() < w.noise {
		return Access{
			PC:    w.noisePCs[w.rng.Intn(len(w.noisePCs))],
			VA:    uint64(w.rng.Int63n(1<<30)) &^ 7,
			Write: w.rng.Intn(4) == 0,
		}, true
	}

	s := &w.streams[w.turn]
	w.turn = (w.turn + 1) % len(w.streams)

	return s.next(), true
}

// TraceWorkload replays accesses parsed from a text trace.
type TraceWorkload struct {
	accesses []Access
	pos      int
}

// ParseTrace reads a trace with one access per line: "<pc> <va> <R|W>",
// numbers in C syntax. Blank lines and lines starting with '#' are skipped.
func ParseTrace(r io.Reader) (*TraceWorkload, error) {
	w := &TraceWorkload{}
	sc := bufio.NewScanner(r)
	line := 0

	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, errors.Errorf("trace line %d: want 3 fields, got %d",
				line, len(fields))
		}

		pc, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: pc", line)
		}

		va, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: address", line)
		}

		var write bool

		switch strings.ToUpper(fields[2]) {
		case "R":
		case "W":
			write = true
		default:
			return nil, errors.Errorf("trace line %d: bad access kind %q",
				line, fields[2])
		}

		w.accesses = append(w.accesses, Access{PC: pc, VA: va, Write: write})
	}

	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trace")
	}

	return w, nil
}

// Len returns the number of accesses in the trace.
func (w *TraceWorkload) Len() int { return len(w.accesses) }

// Next returns the next access.
func (w *TraceWorkload) Next() (Access, bool) {
	if w.pos >= len(w.accesses) {
		return Access{}, false
	}

	a := w.accesses[w.pos]
	w.pos++

	return a, true
}
