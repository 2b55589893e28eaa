package report

import (
	"database/sql"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/smtsim/pfsim/driver"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started TEXT NOT NULL,
	description TEXT
);
CREATE TABLE IF NOT EXISTS core_stats (
	run_id TEXT NOT NULL,
	cycle INTEGER NOT NULL,
	core INTEGER NOT NULL,
	thread INTEGER NOT NULL,
	accesses INTEGER,
	l1_hits INTEGER,
	stream_hits INTEGER,
	demand_misses INTEGER,
	merged_misses INTEGER,
	pf_reqs_ok INTEGER,
	pf_reqs_failed INTEGER,
	pf_used INTEGER,
	stream_allocs INTEGER,
	streams_replaced INTEGER,
	streams_useless INTEGER,
	import_groups INTEGER,
	PRIMARY KEY (run_id, cycle, core)
);
`

// SQLiteRecorder stores periodic snapshots of a run in a SQLite database.
// It implements driver.Observer.
type SQLiteRecorder struct {
	db     *sql.DB
	insert *sql.Stmt
	runID  xid.ID
	rows   int
}

// NewSQLiteRecorder opens (or creates) a database and registers a new run
// in it.
func NewSQLiteRecorder(path, description string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}

	r := &SQLiteRecorder{db: db, runID: xid.New()}

	_, err = db.Exec(`INSERT INTO runs (id, started, description)
		VALUES (?, ?, ?)`, r.runID.String(),
		time.Now().UTC().Format(time.RFC3339), description)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "registering run")
	}

	r.insert, err = db.Prepare(`INSERT OR REPLACE INTO core_stats (
		run_id, cycle, core, thread, accesses, l1_hits, stream_hits,
		demand_misses, merged_misses, pf_reqs_ok, pf_reqs_failed, pf_used,
		stream_allocs, streams_replaced, streams_useless, import_groups)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "preparing insert")
	}

	return r, nil
}

// RunID identifies the run's rows.
func (r *SQLiteRecorder) RunID() xid.ID { return r.runID }

// Rows returns the number of rows written.
func (r *SQLiteRecorder) Rows() int { return r.rows }

// DB exposes the database, for queries.
func (r *SQLiteRecorder) DB() *sql.DB { return r.db }

// Observe writes one row per core.
func (r *SQLiteRecorder) Observe(res driver.Result) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}

	stmt := tx.Stmt(r.insert)

	for _, c := range res.Cores {
		e := &c.Engine

		_, err := stmt.Exec(r.runID.String(), res.Cycles, c.ID, c.Thread,
			c.Stats.Accesses, c.Stats.L1Hits, c.Stats.StreamHits,
			c.Stats.DemandMisses, c.Stats.MergedMisses, e.PFReqsOK,
			e.PFReqsFailed, e.PFUsed, e.StreamAllocs, e.PerStream.Replaced,
			e.PerStream.Useless, e.Import.GroupTotal)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "recording core %d at %d", c.ID,
				res.Cycles)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing snapshot")
	}

	r.rows += len(res.Cores)

	return nil
}

// Close flushes and closes the database.
func (r *SQLiteRecorder) Close() error {
	if r.insert != nil {
		r.insert.Close()
	}

	return r.db.Close()
}
