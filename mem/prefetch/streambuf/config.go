package streambuf

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/smtsim/pfsim/mem"
	"github.com/smtsim/pfsim/mem/cache"
)

// Config holds the tuning parameters of one engine. It is immutable once the
// engine is built.
type Config struct {
	NumStreams      int
	BlocksPerStream int
	StridePCEntries int
	StridePCAssoc   int
	StridePCPolicy  string

	// AlwaysFreeOnMatch drops the buffered copy of a block as soon as a
	// demand miss tag-matches it.
	AlwaysFreeOnMatch     bool
	PrefetchAsExclusive   bool
	PrefetchOnlyWhenQuiet bool

	// ForceNoOverlap keeps a block from being prefetched into more than one
	// slot across the whole group.
	ForceNoOverlap bool

	UseTwoMissAllocFilter bool
	UseRoundRobinSched    bool

	// StreamPriorityAgeAllocs is the number of allocation attempts between
	// two priority decays.
	StreamPriorityAgeAllocs int

	PredictMatchSaturate   int
	PredictMissSaturate    int
	StreamPrioritySaturate int

	// AllocMinConfidenceThresh is zero-based: 0 means "no evidence either
	// way".
	AllocMinConfidenceThresh int

	BlockBytes int
}

// DefaultConfig returns a small, valid configuration.
func DefaultConfig() Config {
	return Config{
		NumStreams:               8,
		BlocksPerStream:          4,
		StridePCEntries:          256,
		StridePCAssoc:            4,
		StridePCPolicy:           cache.PolicyLRU,
		ForceNoOverlap:           true,
		StreamPriorityAgeAllocs:  64,
		PredictMatchSaturate:     8,
		PredictMissSaturate:      4,
		StreamPrioritySaturate:   8,
		AllocMinConfidenceThresh: 1,
		BlockBytes:               64,
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var problems []string

	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.NumStreams < 1 {
		bad("bad n_streams (%d)", c.NumStreams)
	}

	if c.BlocksPerStream < 1 {
		bad("bad blocks_per_stream (%d)", c.BlocksPerStream)
	}

	if c.StridePCEntries < 1 {
		bad("bad stride_pc_entries (%d)", c.StridePCEntries)
	}

	if c.StridePCAssoc < 1 {
		bad("bad stride_pc_assoc (%d)", c.StridePCAssoc)
	} else if c.StridePCEntries%c.StridePCAssoc != 0 {
		bad("stride_pc_assoc (%d) doesn't divide stride_pc_entries (%d)",
			c.StridePCAssoc, c.StridePCEntries)
	} else if !mem.IsPowerOfTwo(c.StridePCEntries / c.StridePCAssoc) {
		bad("stride_pc line count (%d) not a power of 2",
			c.StridePCEntries/c.StridePCAssoc)
	}

	if _, err := cache.NewVictimFinder(c.StridePCPolicy); err != nil {
		bad("bad stride_pc_policy: %v", err)
	}

	if c.StreamPriorityAgeAllocs < 1 {
		bad("bad stream_priority_age_allocs (%d)", c.StreamPriorityAgeAllocs)
	}

	if c.PredictMatchSaturate < 2 {
		bad("bad predict_match_saturate (%d)", c.PredictMatchSaturate)
	}

	if c.PredictMissSaturate < 1 {
		bad("bad predict_miss_saturate (%d)", c.PredictMissSaturate)
	}

	if c.StreamPrioritySaturate < 1 {
		bad("bad stream_priority_saturate (%d)", c.StreamPrioritySaturate)
	}

	if c.BlockBytes < 1 {
		bad("bad block_bytes (%d)", c.BlockBytes)
	} else if !mem.IsPowerOfTwo(c.BlockBytes) {
		bad("block_bytes (%d) not a power of 2", c.BlockBytes)
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid streambuf config: %s",
			strings.Join(problems, "; "))
	}

	return nil
}

// matchZero is the match-counter value that means "unknown".
func (c Config) matchZero() int {
	return c.PredictMatchSaturate / 2
}

// allocThresh is the allocation threshold on the raw match-counter scale.
func (c Config) allocThresh() int {
	return c.AllocMinConfidenceThresh + c.matchZero()
}

// A Source is a hierarchical key-value reader. Keys are '/'-separated paths.
type Source interface {
	Int(path string) (int, error)
	Bool(path string) (bool, error)
	IntDefault(path string, def int) int
	StringDefault(path string, def string) string
}

// ConfigFromSource reads the engine parameters found under path.
func ConfigFromSource(src Source, path string) (Config, error) {
	var c Config

	ints := []struct {
		key string
		dst *int
	}{
		{"n_streams", &c.NumStreams},
		{"blocks_per_stream", &c.BlocksPerStream},
		{"stride_pc_entries", &c.StridePCEntries},
		{"stride_pc_assoc", &c.StridePCAssoc},
		{"stream_priority_age_allocs", &c.StreamPriorityAgeAllocs},
		{"predict_match_saturate", &c.PredictMatchSaturate},
		{"predict_miss_saturate", &c.PredictMissSaturate},
		{"stream_priority_saturate", &c.StreamPrioritySaturate},
		{"alloc_min_confidence_thresh", &c.AllocMinConfidenceThresh},
	}
	for _, f := range ints {
		v, err := src.Int(path + "/" + f.key)
		if err != nil {
			return c, errors.Wrapf(err, "reading streambuf config %s", path)
		}
		*f.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"always_free_on_match", &c.AlwaysFreeOnMatch},
		{"prefetch_as_exclusive", &c.PrefetchAsExclusive},
		{"prefetch_only_when_quiet", &c.PrefetchOnlyWhenQuiet},
		{"force_no_overlap", &c.ForceNoOverlap},
		{"use_two_miss_alloc_filter", &c.UseTwoMissAllocFilter},
		{"use_round_robin_sched", &c.UseRoundRobinSched},
	}
	for _, f := range bools {
		v, err := src.Bool(path + "/" + f.key)
		if err != nil {
			return c, errors.Wrapf(err, "reading streambuf config %s", path)
		}
		*f.dst = v
	}

	c.StridePCPolicy = src.StringDefault(path+"/stride_pc_policy",
		cache.PolicyLRU)
	c.BlockBytes = src.IntDefault(path+"/block_bytes", 64)

	return c, c.Validate()
}
