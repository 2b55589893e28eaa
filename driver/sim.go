package driver

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/prefetch/streambuf"
	"github.com/smtsim/pfsim/sim"
)

// defaultChunk is how many cycles run between invariant checks and observer
// calls when no observer asks for less.
const defaultChunk = 1000

// CoreResult is one core's share of a Result.
type CoreResult struct {
	ID     int
	Thread int
	Stats  CoreStats
	L1     L1Stats
	Engine streambuf.Stats
}

// A Result is a snapshot of a simulation's counters.
type Result struct {
	Cycles    int64
	Cores     []CoreResult
	Mem       MemStats
	Migration MigrationStats

	// OutstandingPrefetches counts stream-buffer slots still waiting for a
	// reply.
	OutstandingPrefetches int
}

// An Observer is called periodically with a snapshot while a simulation
// runs.
type Observer interface {
	Observe(r Result) error
}

type observerEntry struct {
	every    int64
	next     int64
	observer Observer
}

// Sim is a multi-core machine with a stream-buffer engine on every core.
type Sim struct {
	cfg     SimConfig
	queue   *sim.EventQueue
	mem     *MemorySystem
	cores   []*Core
	threads []*Thread
	log     *logrus.Entry

	mu        sync.Mutex
	now       int64
	draining  bool
	migStats  MigrationStats
	observers []observerEntry
}

// NewSim builds the machine a configuration describes.
func NewSim(cfg SimConfig, logger *logrus.Logger) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Sim{
		cfg:   cfg,
		queue: sim.NewEventQueue(),
		log:   logger.WithField("component", "sim"),
	}
	s.mem = NewMemorySystem(cfg.Mem, cfg.Cores, s.queue, logger)

	for i := 0; i < cfg.Cores; i++ {
		l1, err := NewL1(cfg.L1)
		if err != nil {
			return nil, err
		}

		port := s.mem.Port(i)
		engine := streambuf.MakeBuilder().
			WithConfig(cfg.Streambuf).
			WithCoreID(i).
			WithIssuer(port).
			WithPortProbe(port).
			WithLogger(logger).
			Build(fmt.Sprintf("c%d.pfsg", i))

		c := &Core{
			id:            i,
			l1:            l1,
			engine:        engine,
			mem:           s.mem,
			coherence:     s,
			computeCycles: cfg.ComputeCycles,
			blockBytes:    cfg.L1.BlockBytes,
			log:           logger.WithField("component", fmt.Sprintf("c%d", i)),
		}

		s.mem.Attach(i, c)
		s.cores = append(s.cores, c)
	}

	for i, tc := range cfg.Threads {
		w, err := buildWorkload(tc)
		if err != nil {
			return nil, errors.Wrapf(err, "thread %d", i)
		}

		t := NewThread(i, w)
		s.threads = append(s.threads, t)
		s.cores[tc.Core].thread = t
	}

	for _, c := range s.cores {
		s.queue.Schedule(fmt.Sprintf("c%d.tick", c.id), c.Tick, 0)
		s.queue.Schedule(c.engine.Name(), s.engineTick(c.engine), 0)
	}

	if cfg.Migration.Interval > 0 && cfg.Cores > 1 {
		s.queue.Schedule("migrate", s.migrate, cfg.Migration.Interval)
	}

	return s, nil
}

func buildWorkload(tc ThreadConfig) (Workload, error) {
	if tc.Trace == "" {
		return NewStridedWorkload(tc.Streams, tc.Noise, tc.Accesses, tc.Seed),
			nil
	}

	f, err := os.Open(tc.Trace)
	if err != nil {
		return nil, errors.Wrap(err, "opening trace")
	}
	defer f.Close()

	return ParseTrace(f)
}

// engineTick services an engine every cycle until the run drains.
func (s *Sim) engineTick(e *streambuf.Engine) sim.Handler {
	return func(ctx sim.Context) int64 {
		if s.draining {
			return -1
		}

		return e.Tick(ctx)
	}
}

func (s *Sim) snoop(ctx sim.Context, from int, base mem.LongAddr, write bool) {
	for _, c := range s.cores {
		if c.id != from {
			c.yield(ctx, base, write)
		}
	}
}

// Config returns the configuration the machine was built from.
func (s *Sim) Config() SimConfig { return s.cfg }

// NumCores returns the number of cores.
func (s *Sim) NumCores() int { return len(s.cores) }

// Core returns a core. Callers must not touch it while Run is active.
func (s *Sim) Core(i int) *Core { return s.cores[i] }

// Observe registers an observer called every given number of cycles and
// once more at the end of the run.
func (s *Sim) Observe(every int64, o Observer) {
	if every < 1 {
		panic(fmt.Sprintf("observer interval %d", every))
	}

	s.observers = append(s.observers, observerEntry{
		every:    every,
		next:     every,
		observer: o,
	})
}

func (s *Sim) chunk() int64 {
	c := int64(defaultChunk)
	for _, o := range s.observers {
		c = min(c, o.every)
	}

	return c
}

func (s *Sim) threadsDone() bool {
	for _, t := range s.threads {
		if !t.done {
			return false
		}
	}

	return true
}

func (s *Sim) inFlight() int {
	n := 0
	for i := range s.cores {
		n += s.mem.InFlight(i)
	}

	return n
}

// step runs one chunk of cycles under the lock.
func (s *Sim) step(end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.RunUntil(end)
	s.now = end

	if !s.cfg.CheckInvariants {
		return nil
	}

	for _, c := range s.cores {
		if err := c.engine.CheckInvariants(); err != nil {
			return errors.Wrapf(err, "cycle %d", s.now)
		}
	}

	return nil
}

func (s *Sim) notify(final bool) error {
	for i := range s.observers {
		o := &s.observers[i]
		if !final && s.now < o.next {
			continue
		}

		for o.next <= s.now {
			o.next += o.every
		}

		if err := o.observer.Observe(s.Snapshot()); err != nil {
			return err
		}
	}

	return nil
}

// Run simulates until every thread is done or the cycle budget is spent.
// Once the threads are done the engines stop issuing and the run drains the
// requests still in flight.
func (s *Sim) Run() (Result, error) {
	chunk := s.chunk()

	for s.now < s.cfg.Cycles {
		if !s.draining && s.threadsDone() {
			s.log.Debugf("threads done at %d, draining", s.now)
			s.draining = true
		}

		if s.draining && s.inFlight() == 0 {
			break
		}

		if err := s.step(min(s.now+chunk, s.cfg.Cycles)); err != nil {
			return s.Snapshot(), err
		}

		if err := s.notify(false); err != nil {
			return s.Snapshot(), err
		}
	}

	if err := s.notify(true); err != nil {
		return s.Snapshot(), err
	}

	r := s.Snapshot()
	s.log.Infof("run finished at cycle %d, %d prefetches outstanding",
		r.Cycles, r.OutstandingPrefetches)

	return r, nil
}

// Snapshot returns the current counters. It is safe to call while Run is
// active.
func (s *Sim) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Result{
		Cycles:    s.now,
		Mem:       s.mem.Stats(),
		Migration: s.migStats,
	}

	for _, c := range s.cores {
		thread := -1
		if c.thread != nil {
			thread = c.thread.ID
		}

		r.Cores = append(r.Cores, CoreResult{
			ID:     c.id,
			Thread: thread,
			Stats:  c.stats,
			L1:     c.l1.Stats(),
			Engine: c.engine.Stats(),
		})
		r.OutstandingPrefetches += c.engine.Outstanding()
	}

	return r
}

// DumpEngine writes one core's engine state. It is safe to call while Run
// is active.
func (s *Sim) DumpEngine(core int, w io.Writer) error {
	if core < 0 || core >= len(s.cores) {
		return errors.Errorf("no core %d", core)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cores[core].engine.Dump(w, "")

	return nil
}
