// Package sim provides the simulation clock and a cycle-driven event queue.
package sim

import "fmt"

// A Context carries the simulation state every engine operation runs in.
// It replaces any ambient global clock.
type Context struct {
	// Cycle is the current simulated cycle.
	Cycle int64
}

// At returns a Context positioned at the given cycle.
func At(cycle int64) Context {
	return Context{Cycle: cycle}
}

// Next returns the context one cycle later.
func (c Context) Next() Context {
	return Context{Cycle: c.Cycle + 1}
}

func (c Context) String() string {
	return fmt.Sprintf("cyc %d", c.Cycle)
}
