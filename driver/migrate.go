package driver

import (
	"fmt"

	"github.com/smtsim/pfsim/mem/prefetch/streambuf"
	"github.com/smtsim/pfsim/sim"
)

// MigrationConfig controls periodic thread migration.
type MigrationConfig struct {
	// Interval is the number of cycles between migrations; 0 disables them.
	Interval int64

	PreferImported bool
	ImportsWinTies bool
}

// MigrationStats counts the stream state carried across cores.
type MigrationStats struct {
	Migrations       int64
	StreamsExported  int64
	BitsTransferred  int64
	Prompt           int64
	Deferred         int64
	RejectedAtTarget int64
	RejectedGroups   int64
}

// A migration carries one thread's exported streams to its new core. It
// fires twice: first to bill the bus, then, once the state has arrived, to
// import it.
type migration struct {
	sim    *Sim
	from   int
	to     int
	export *streambuf.Export
	billed bool
}

func (m *migration) handle(ctx sim.Context) int64 {
	s := m.sim

	if !m.billed {
		m.billed = true
		bits := m.export.EstimateSizeBits()
		s.migStats.BitsTransferred += bits

		arrival := s.mem.Bus().Transfer(ctx.Cycle, bits)
		if arrival <= ctx.Cycle {
			arrival = ctx.Cycle + 1
		}

		return arrival
	}

	res := s.cores[m.to].engine.Import(ctx, m.export,
		s.cfg.Migration.PreferImported, s.cfg.Migration.ImportsWinTies)

	if res.Rejected {
		s.migStats.RejectedGroups++
	}

	s.migStats.Prompt += int64(res.Prompt)
	s.migStats.Deferred += int64(res.Deferred)
	s.migStats.RejectedAtTarget += int64(res.RejectedAtTarget)

	s.log.Debugf("migration %s: c%d -> c%d, %d prompt %d deferred %d "+
		"rejected, group rejected %t", m.export.ID, m.from, m.to, res.Prompt,
		res.Deferred, res.RejectedAtTarget, res.Rejected)

	return -1
}

// migrate rotates every thread to the next core. Each moving thread's
// streams are exported and stopped on its old core and imported on the new
// one after a bus transfer.
func (s *Sim) migrate(ctx sim.Context) int64 {
	n := len(s.cores)
	if n < 2 {
		return -1
	}

	threads := make([]*Thread, n)

	for i, c := range s.cores {
		threads[(i+1)%n] = c.thread
	}

	for i, c := range s.cores {
		t := c.thread
		c.thread = threads[i]
		c.waitingOn = nil
		c.readyAt = ctx.Cycle + 1

		if t == nil {
			continue
		}

		to := (i + 1) % n
		x := c.engine.GenExport(t.ID)
		c.engine.StopThreadPF(ctx, t.ID)

		s.migStats.Migrations++
		s.migStats.StreamsExported += int64(x.Len())

		m := &migration{sim: s, from: i, to: to, export: x}
		s.queue.Schedule(fmt.Sprintf("migrate.t%d", t.ID), m.handle,
			ctx.Cycle+1)
	}

	return ctx.Cycle + s.cfg.Migration.Interval
}
