// Package journal records completed collection cycles in SQLite.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/pairvm/vm"
)

var log = commonlog.GetLogger("pairvm.journal")

// Journal appends one row per collection cycle.
type Journal struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if needed) the journal database at dbPath. Use
// ":memory:" for a private in-memory journal.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cycles (
		heap_id     TEXT    NOT NULL,
		cycle       INTEGER NOT NULL,
		trigger     TEXT    NOT NULL,
		before      INTEGER NOT NULL,
		marked      INTEGER NOT NULL,
		swept       INTEGER NOT NULL,
		survivors   INTEGER NOT NULL,
		threshold   INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		at          INTEGER NOT NULL,
		PRIMARY KEY (heap_id, cycle)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Journal{db: db, dbPath: dbPath}, nil
}

// Path returns the database path the journal was opened with.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record stores the stats of one cycle of the given heap.
func (j *Journal) Record(heapID string, s vm.GCStats) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT INTO cycles
		(heap_id, cycle, trigger, before, marked, swept, survivors, threshold, duration_ns, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		heapID, int64(s.Cycle), s.Trigger.String(), s.Before, s.Marked, s.Swept,
		s.Survivors, s.Threshold, s.Duration.Nanoseconds(), s.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("recording cycle %d of heap %s: %w", s.Cycle, heapID, err)
	}
	return nil
}

// Cycles returns the recorded cycles of a heap in cycle order.
func (j *Journal) Cycles(heapID string) ([]vm.GCStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT cycle, trigger, before, marked, swept, survivors, threshold, duration_ns, at
		FROM cycles WHERE heap_id = ? ORDER BY cycle`, heapID)
	if err != nil {
		return nil, fmt.Errorf("querying cycles of heap %s: %w", heapID, err)
	}
	defer rows.Close()

	var out []vm.GCStats
	for rows.Next() {
		var (
			s       vm.GCStats
			cycle   int64
			trigger string
			dur, at int64
		)
		if err := rows.Scan(&cycle, &trigger, &s.Before, &s.Marked, &s.Swept,
			&s.Survivors, &s.Threshold, &dur, &at); err != nil {
			return nil, fmt.Errorf("scanning cycle row: %w", err)
		}
		s.Cycle = uint64(cycle)
		s.Trigger = vm.ParseTrigger(trigger)
		s.Duration = time.Duration(dur)
		s.Timestamp = time.Unix(0, at)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cycle rows: %w", err)
	}
	return out, nil
}

// Heaps returns the IDs of every heap with recorded cycles.
func (j *Journal) Heaps() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT DISTINCT heap_id FROM cycles ORDER BY heap_id`)
	if err != nil {
		return nil, fmt.Errorf("querying heaps: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning heap row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Observer returns a vm.Observer that records every cycle of the given heap.
// Cycles that fail to record are logged and dropped; the collector never
// fails.
func (j *Journal) Observer(heapID string) vm.Observer {
	return func(s vm.GCStats) {
		if err := j.Record(heapID, s); err != nil {
			log.Warning(err.Error())
		}
	}
}

// Attach registers the journal as an observer of v.
func (j *Journal) Attach(v *vm.VM) {
	v.Collector().Observe(j.Observer(v.ID().String()))
}
