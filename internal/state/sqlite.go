package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"warble/internal/model"
)

// SQLiteBackend stores the snapshot in a local SQLite database. Each
// save replaces the whole snapshot inside one transaction, so a crash
// mid-save rolls back to the previous committed snapshot.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithMessage(err, "open sqlite")
	}
	// Single connection: the daemon is single-writer and ":memory:"
	// keeps a separate database per connection.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, errors.WithMessage(err, "set pragmas")
	}
	b := &SQLiteBackend{db: d}
	if err := b.migrate(); err != nil {
		_ = d.Close()
		return nil, errors.WithMessage(err, "migrate")
	}
	return b, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS counters (
	  key TEXT PRIMARY KEY,
	  action TEXT NOT NULL,
	  kind TEXT NOT NULL,
	  window_id INTEGER NOT NULL,
	  count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS targets (
	  handle TEXT PRIMARY KEY,
	  actions_this_cycle INTEGER NOT NULL,
	  last_seen_post_id TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
	  id INTEGER PRIMARY KEY CHECK (id=1),
	  version INTEGER NOT NULL,
	  cycle_id TEXT NOT NULL,
	  cycle_started_at TEXT NOT NULL,
	  saved_at TEXT NOT NULL
	);
	`)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) (*PersistedState, error) {
	st := newPersistedState()
	var cycleStarted, savedAt string
	row := b.db.QueryRowContext(ctx, `SELECT version, cycle_id, cycle_started_at, saved_at FROM meta WHERE id=1`)
	if err := row.Scan(&st.Version, &st.Cycle.ID, &cycleStarted, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithMessagef(ErrCorruptState, "read meta: %v", err)
	}
	if cycleStarted != "" {
		ts, err := time.Parse(time.RFC3339Nano, cycleStarted)
		if err != nil {
			return nil, errors.WithMessagef(ErrCorruptState, "parse cycle start: %v", err)
		}
		st.Cycle.StartedAt = ts
	}
	if savedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, errors.WithMessagef(ErrCorruptState, "parse saved at: %v", err)
		}
		st.SavedAt = ts
	}

	rows, err := b.db.QueryContext(ctx, `SELECT key, action, kind, window_id, count FROM counters`)
	if err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "read counters: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, action string
		c := &Counter{}
		if err := rows.Scan(&key, &action, &c.Kind, &c.WindowID, &c.Count); err != nil {
			return nil, errors.WithMessagef(ErrCorruptState, "scan counter: %v", err)
		}
		c.Action = model.Action(action)
		st.Counters[key] = c
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "counters: %v", err)
	}

	trows, err := b.db.QueryContext(ctx, `SELECT handle, actions_this_cycle, last_seen_post_id FROM targets`)
	if err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "read targets: %v", err)
	}
	defer trows.Close()
	for trows.Next() {
		t := &TargetState{}
		if err := trows.Scan(&t.Handle, &t.ActionsThisCycle, &t.LastSeenPostID); err != nil {
			return nil, errors.WithMessagef(ErrCorruptState, "scan target: %v", err)
		}
		st.Targets[t.Handle] = t
	}
	if err := trows.Err(); err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "targets: %v", err)
	}
	return st, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, st *PersistedState) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM counters`); err != nil {
		return errors.WithMessage(err, "clear counters")
	}
	for key, c := range st.Counters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO counters(key, action, kind, window_id, count) VALUES(?,?,?,?,?)`,
			key, string(c.Action), c.Kind, c.WindowID, c.Count); err != nil {
			return errors.WithMessage(err, "write counter")
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets`); err != nil {
		return errors.WithMessage(err, "clear targets")
	}
	for _, t := range st.Targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO targets(handle, actions_this_cycle, last_seen_post_id) VALUES(?,?,?)`,
			t.Handle, t.ActionsThisCycle, t.LastSeenPostID); err != nil {
			return errors.WithMessage(err, "write target")
		}
	}
	cycleStarted := ""
	if !st.Cycle.StartedAt.IsZero() {
		cycleStarted = st.Cycle.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	savedAt := ""
	if !st.SavedAt.IsZero() {
		savedAt = st.SavedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(id, version, cycle_id, cycle_started_at, saved_at) VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET version=excluded.version, cycle_id=excluded.cycle_id,
		 cycle_started_at=excluded.cycle_started_at, saved_at=excluded.saved_at`,
		st.Version, st.Cycle.ID, cycleStarted, savedAt); err != nil {
		return errors.WithMessage(err, "write meta")
	}
	return errors.WithMessage(tx.Commit(), "commit save")
}
