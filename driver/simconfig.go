package driver

import (
	"github.com/pkg/errors"

	"github.com/smtsim/pfsim/config"
	"github.com/smtsim/pfsim/mem/prefetch/streambuf"
)

// ThreadConfig describes one thread and where it starts.
type ThreadConfig struct {
	Core int

	// Trace names a trace file. When set, the synthetic fields are ignored.
	Trace string

	Streams  []StrideStream
	Noise    float64
	Accesses int64
	Seed     int64
}

// SimConfig holds every parameter of a simulation.
type SimConfig struct {
	Cores  int
	Cycles int64
	Seed   int64

	// ComputeCycles is the think time between a core's accesses.
	ComputeCycles int64

	// CheckInvariants runs the engine self-check after every chunk of
	// cycles.
	CheckInvariants bool

	Mem       MemConfig
	L1        L1Config
	Streambuf streambuf.Config
	Migration MigrationConfig
	Threads   []ThreadConfig
}

// DefaultSimConfig returns a two-core machine running one strided thread
// per core.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Cores:         2,
		Cycles:        100000,
		Seed:          1,
		ComputeCycles: 2,
		Mem:           DefaultMemConfig(),
		L1:            DefaultL1Config(),
		Streambuf:     streambuf.DefaultConfig(),
		Threads: []ThreadConfig{
			{
				Core: 0,
				Streams: []StrideStream{
					{PC: 0x400100, Base: 0x10000000, Stride: 64},
					{PC: 0x400180, Base: 0x20000000, Stride: 128, WriteEvery: 4},
				},
				Noise: 0.1,
				Seed:  1,
			},
			{
				Core: 1,
				Streams: []StrideStream{
					{PC: 0x400200, Base: 0x30000000, Stride: -64},
				},
				Noise: 0.2,
				Seed:  2,
			},
		},
	}
}

// Validate checks the whole configuration.
func (c SimConfig) Validate() error {
	if c.Cores < 1 {
		return errors.Errorf("need at least one core, got %d", c.Cores)
	}

	if c.Cycles < 1 {
		return errors.Errorf("need at least one cycle, got %d", c.Cycles)
	}

	if c.ComputeCycles < 0 {
		return errors.Errorf("negative compute cycles %d", c.ComputeCycles)
	}

	if c.Migration.Interval < 0 {
		return errors.Errorf("negative migration interval %d",
			c.Migration.Interval)
	}

	if err := c.Mem.Validate(); err != nil {
		return err
	}

	if err := c.L1.Validate(); err != nil {
		return err
	}

	if err := c.Streambuf.Validate(); err != nil {
		return err
	}

	if c.Streambuf.BlockBytes != c.L1.BlockBytes {
		return errors.Errorf("streambuf block size %d differs from l1's %d",
			c.Streambuf.BlockBytes, c.L1.BlockBytes)
	}

	used := make(map[int]int)

	for i, t := range c.Threads {
		if t.Core < 0 || t.Core >= c.Cores {
			return errors.Errorf("thread %d on core %d, machine has %d", i,
				t.Core, c.Cores)
		}

		if prev, ok := used[t.Core]; ok {
			return errors.Errorf("threads %d and %d both on core %d", prev, i,
				t.Core)
		}

		used[t.Core] = i

		if t.Noise < 0 || t.Noise > 1 {
			return errors.Errorf("thread %d noise %g out of [0,1]", i, t.Noise)
		}
	}

	return nil
}

// treeReader reads optional keys and keeps the first error.
type treeReader struct {
	t   *config.Tree
	err error
}

func (r *treeReader) int(path string, def int) int {
	if r.err != nil || !r.t.Has(path) {
		return def
	}

	v, err := r.t.Int(path)
	if err != nil {
		r.err = err
	}

	return v
}

func (r *treeReader) int64(path string, def int64) int64 {
	return int64(r.int(path, int(def)))
}

func (r *treeReader) bool(path string, def bool) bool {
	if r.err != nil || !r.t.Has(path) {
		return def
	}

	v, err := r.t.Bool(path)
	if err != nil {
		r.err = err
	}

	return v
}

func (r *treeReader) float(path string, def float64) float64 {
	if r.err != nil || !r.t.Has(path) {
		return def
	}

	v, err := r.t.Float(path)
	if err != nil {
		r.err = err
	}

	return v
}

// SimConfigFromTree reads a simulation configuration. Missing keys keep
// their DefaultSimConfig values, except that a workload/threads section
// replaces the default threads and a streambuf section must be complete.
func SimConfigFromTree(t *config.Tree) (SimConfig, error) {
	c := DefaultSimConfig()
	r := &treeReader{t: t}

	c.Cores = r.int("sim/cores", c.Cores)
	c.Cycles = r.int64("sim/cycles", c.Cycles)
	c.Seed = r.int64("sim/seed", c.Seed)
	c.ComputeCycles = r.int64("sim/compute_cycles", c.ComputeCycles)
	c.CheckInvariants = r.bool("sim/check_invariants", c.CheckInvariants)

	c.Mem.Latency = r.int64("mem/latency", c.Mem.Latency)
	c.Mem.PortOccupancy = r.int64("mem/port_occupancy", c.Mem.PortOccupancy)
	c.Mem.MSHRLimit = r.int("mem/mshr_limit", c.Mem.MSHRLimit)
	c.Mem.BusBitsPerCycle = r.int("mem/bus_bits_per_cycle",
		c.Mem.BusBitsPerCycle)
	c.Mem.BusLatency = r.int64("mem/bus_latency", c.Mem.BusLatency)

	c.L1.Size = r.int("l1/size", c.L1.Size)
	c.L1.Assoc = r.int("l1/assoc", c.L1.Assoc)
	c.L1.BlockBytes = r.int("l1/block_bytes", c.L1.BlockBytes)
	c.L1.Policy = t.StringDefault("l1/policy", c.L1.Policy)

	c.Migration.Interval = r.int64("migration/interval", c.Migration.Interval)
	c.Migration.PreferImported = r.bool("migration/prefer_imported",
		c.Migration.PreferImported)
	c.Migration.ImportsWinTies = r.bool("migration/imports_win_ties",
		c.Migration.ImportsWinTies)

	if r.err != nil {
		return c, errors.Wrap(r.err, "reading sim config")
	}

	if len(t.Children("streambuf")) > 0 {
		sb, err := streambuf.ConfigFromSource(t, "streambuf")
		if err != nil {
			return c, err
		}

		c.Streambuf = sb
	} else {
		c.Streambuf.BlockBytes = c.L1.BlockBytes
	}

	if ids := t.Children("workload/threads"); len(ids) > 0 {
		c.Threads = nil

		for i, id := range ids {
			tc, err := threadFromTree(r, "workload/threads/"+id, i, c.Seed)
			if err != nil {
				return c, err
			}

			c.Threads = append(c.Threads, tc)
		}
	}

	return c, c.Validate()
}

func threadFromTree(
	r *treeReader,
	path string,
	index int,
	seed int64,
) (ThreadConfig, error) {
	tc := ThreadConfig{
		Core:     r.int(path+"/core", index),
		Trace:    r.t.StringDefault(path+"/trace", ""),
		Noise:    r.float(path+"/noise", 0),
		Accesses: r.int64(path+"/accesses", 0),
		Seed:     r.int64(path+"/seed", seed+int64(index)),
	}

	for _, id := range r.t.Children(path + "/streams") {
		sp := path + "/streams/" + id
		if !r.t.Has(sp + "/pc") {
			return tc, errors.Errorf("%s: stream without a pc", sp)
		}

		tc.Streams = append(tc.Streams, StrideStream{
			PC:         uint64(r.int64(sp+"/pc", 0)),
			Base:       uint64(r.int64(sp+"/base", 0)),
			Stride:     r.int64(sp+"/stride", 64),
			Length:     r.int64(sp+"/length", 0),
			WriteEvery: r.int64(sp+"/write_every", 0),
		})
	}

	if r.err != nil {
		return tc, errors.Wrapf(r.err, "reading %s", path)
	}

	if tc.Trace == "" && len(tc.Streams) == 0 && tc.Noise == 0 {
		return tc, errors.Errorf("%s: thread has neither trace nor streams", path)
	}

	return tc, nil
}
