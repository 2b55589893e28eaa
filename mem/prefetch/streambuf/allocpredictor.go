package streambuf

import (
	"github.com/sirupsen/logrus"

	"github.com/smtsim/pfsim/mem/cache"
)

// AllocPredictor is the stream-independent stride table that decides whether
// a miss deserves a stream. It is trained on every committed access and
// keyed by (thread, PC).
type AllocPredictor struct {
	cfg     *Config
	cam     *cache.TagTable
	entries []PredictInfo
	log     *logrus.Entry
}

// NewAllocPredictor builds the table described by the config.
func NewAllocPredictor(cfg *Config, log *logrus.Entry) (*AllocPredictor, error) {
	cam, err := cache.NewTagTable(cfg.StridePCEntries, cfg.StridePCAssoc,
		cfg.StridePCPolicy)
	if err != nil {
		return nil, err
	}

	p := &AllocPredictor{
		cfg:     cfg,
		cam:     cam,
		entries: make([]PredictInfo, cfg.StridePCEntries),
		log:     log,
	}
	p.Reset()

	return p, nil
}

func camKey(masterID int, pc uint64) (uint32, uint64) {
	return uint32(masterID), pc >> 2
}

// Reset forgets all training.
func (p *AllocPredictor) Reset() {
	p.cam.Reset()
	for i := range p.entries {
		p.entries[i].reset(p.cfg)
	}
}

// PredictOnly returns a copy of the entry for (thread, PC), if any. The entry
// is not trained, but it does become most recently used.
func (p *AllocPredictor) PredictOnly(
	masterID int,
	pc, va uint64,
) (PredictInfo, bool) {
	idx, found := p.cam.Lookup(camKey(masterID, pc))
	if !found {
		p.log.Tracef("stream predict_only: master %d pc 0x%x va 0x%x -> (null)",
			masterID, pc, va)
		return PredictInfo{}, false
	}

	ent := p.entries[idx]
	p.log.Tracef("stream predict_only: master %d pc 0x%x va 0x%x -> %s",
		masterID, pc, va, ent.format(p.cfg))

	return ent, true
}

// Update trains the entry for (thread, PC), allocating one if needed.
func (p *AllocPredictor) Update(masterID int, pc, va uint64, wasMiss bool) {
	match, key := camKey(masterID, pc)

	idx, found := p.cam.Lookup(match, key)
	if !found {
		idx, _ = p.cam.Replace(match, key)
		p.entries[idx].reset(p.cfg)
	}

	ent := &p.entries[idx]
	ent.update(p.cfg, va, wasMiss)

	p.log.Tracef("stream predict update: master %d pc 0x%x va 0x%x miss %t -> %s",
		masterID, pc, va, wasMiss, ent.format(p.cfg))
}

// each visits every table entry, valid or not.
func (p *AllocPredictor) each(f func(PredictInfo)) {
	for i := range p.entries {
		f(p.entries[i])
	}
}
