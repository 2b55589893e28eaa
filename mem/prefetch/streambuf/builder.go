package streambuf

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// A Builder can build stream-buffer engines.
type Builder struct {
	cfg    Config
	coreID int
	issuer PrefetchIssuer
	probe  PortProbe
	logger *logrus.Logger
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:    DefaultConfig(),
		logger: logrus.StandardLogger(),
	}
}

// WithConfig sets the engine parameters.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithCoreID sets the core the engine prefetches for.
func (b Builder) WithCoreID(id int) Builder {
	b.coreID = id
	return b
}

// WithIssuer sets the memory system that performs prefetches.
func (b Builder) WithIssuer(issuer PrefetchIssuer) Builder {
	b.issuer = issuer
	return b
}

// WithPortProbe sets the probe consulted when prefetching only while the
// port is quiet. Without one the port always counts as quiet.
func (b Builder) WithPortProbe(probe PortProbe) Builder {
	b.probe = probe
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *logrus.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates an engine. It panics if the configuration is invalid.
func (b Builder) Build(name string) *Engine {
	if err := b.cfg.Validate(); err != nil {
		panic(fmt.Sprintf("streambuf %s: %v", name, err))
	}

	if b.issuer == nil {
		panic(fmt.Sprintf("streambuf %s: no prefetch issuer", name))
	}

	e := &Engine{
		name:   name,
		cfg:    b.cfg,
		coreID: b.coreID,
		issuer: b.issuer,
		probe:  b.probe,
		log: b.logger.WithFields(logrus.Fields{
			"component": "pfsg",
			"engine":    name,
			"core":      b.coreID,
		}),
	}

	pred, err := NewAllocPredictor(&e.cfg, e.log)
	if err != nil {
		panic(fmt.Sprintf("streambuf %s: %v", name, err))
	}

	e.predictor = pred
	e.index = NewGroupIndex()

	e.streams = make([]*Stream, e.cfg.NumStreams)
	for i := range e.streams {
		e.streams[i] = newStream(i, &e.cfg, e.index, e.log)
	}

	e.Reset()

	return e
}
