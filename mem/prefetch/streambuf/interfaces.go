package streambuf

import (
	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/sim"
)

// A PrefetchRequest asks the memory system to fetch one block on behalf of a
// slot.
type PrefetchRequest struct {
	Core      int
	Addr      mem.LongAddr
	Exclusive bool
	Token     Token
}

// A PrefetchIssuer is the memory system below the engine. IssuePrefetch
// returns false if the request was not accepted; the engine retries on a
// later cycle. An accepted request must eventually be answered with
// Engine.PFFill carrying the same token, from a later event rather than from
// inside IssuePrefetch.
type PrefetchIssuer interface {
	IssuePrefetch(ctx sim.Context, req PrefetchRequest) bool
}

// A PortProbe tells if issuing a prefetch now would contend with demand
// traffic. It must not change any state.
type PortProbe interface {
	PortQuiet(ctx sim.Context, addr mem.LongAddr) bool
}

// A Fill is the memory system's reply to a PrefetchRequest.
type Fill struct {
	Token Token
	Addr  mem.LongAddr

	// EffAccess is the permission the data actually arrived with.
	EffAccess mem.AccessType
	ReadyTime int64

	// FilledToCache is set when the reply went straight into the cache,
	// in which case the engine drops its copy.
	FilledToCache bool
}
