// Package history keeps recent temperature readings in SQLite.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
	_ "modernc.org/sqlite" // driver "sqlite"
)

const MemoryPath = ":memory:"

type Record struct {
	Time    time.Time
	Celsius float64
	ROM     string
}

// Store is safe for concurrent use, SQLite serializes writes.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.NotValidf("history path empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Annotatef(err, "history open path=%s", path)
	}
	// each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "history migrate")
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS temperature (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		time_ns INTEGER NOT NULL,
		celsius REAL NOT NULL,
		rom     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS temperature_time ON temperature (time_ns);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Add(ctx context.Context, r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO temperature (time_ns, celsius, rom) VALUES (?, ?, ?)`,
		r.Time.UnixNano(), r.Celsius, r.ROM)
	return errors.Annotate(err, "history add")
}

// Recent returns up to n newest records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_ns, celsius, rom FROM temperature ORDER BY time_ns DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Annotate(err, "history recent")
	}
	defer rows.Close()

	rs := make([]Record, 0, n)
	for rows.Next() {
		var ns int64
		var r Record
		if err := rows.Scan(&ns, &r.Celsius, &r.ROM); err != nil {
			return nil, errors.Annotate(err, "history scan")
		}
		r.Time = time.Unix(0, ns)
		rs = append(rs, r)
	}
	return rs, errors.Annotate(rows.Err(), "history rows")
}

// Trim deletes all but keep newest records, returns number deleted.
func (s *Store) Trim(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.NotValidf("history trim keep=%d", keep)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM temperature WHERE id NOT IN (SELECT id FROM temperature ORDER BY time_ns DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, errors.Annotate(err, "history trim")
	}
	return res.RowsAffected()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM temperature`).Scan(&n)
	return n, errors.Annotate(err, "history count")
}
