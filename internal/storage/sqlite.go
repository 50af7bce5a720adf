package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "recrawler/pkg/logx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationSQL string

// sqlitePageSize is how many rows a cursor fetches per round trip. Pages are
// read with keyset pagination and the rows handle is closed between pages,
// so an open cursor never pins the single connection.
const sqlitePageSize = 128

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	closed atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("index.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps pragmas stable and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("index opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, d Document) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := keyOf(&d); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(hash, url, status, fresh_date, load_date, depth) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(hash) DO UPDATE SET url=excluded.url, status=excluded.status,
		   fresh_date=excluded.fresh_date, load_date=excluded.load_date, depth=excluded.depth`,
		d.Hash, d.URL, nullInt(d.Status), nullMillis(d.FreshDate), nullMillis(d.LoadDate), d.Depth,
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, hash string) (Document, bool, error) {
	if s.closed.Load() {
		return Document{}, false, ErrClosed
	}
	var (
		d            Document
		status       sql.NullInt64
		fresh, loadd sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, url, status, fresh_date, load_date, depth FROM documents WHERE hash = ?`, hash,
	).Scan(&d.Hash, &d.URL, &status, &fresh, &loadd, &d.Depth)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	d.Status = intPtr(status)
	d.FreshDate = fromMillis(fresh)
	d.LoadDate = fromMillis(loadd)
	return d, true, nil
}

func (s *sqliteStore) Remove(ctx context.Context, hash string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE hash = ?`, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func (s *sqliteStore) QueryStale(ctx context.Context, q StaleQuery) (Cursor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	c := &sqliteCursor{s: s, q: q, remaining: q.Limit}
	// Fetch the first page eagerly so a broken index fails the query itself.
	if !c.fill(ctx) {
		if err := c.Err(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type sqliteCursor struct {
	s *sqliteStore
	q StaleQuery

	page      []Record
	pos       int
	remaining int // rows still allowed by Limit; ignored when Limit <= 0
	lastDate  int64
	lastHash  string
	started   bool
	done      bool // no page after the current one
	err       error
}

func (c *sqliteCursor) Next(ctx context.Context) (Record, bool) {
	if c.pos >= len(c.page) && !c.fill(ctx) {
		c.page = nil
		return Record{}, false
	}
	r := c.page[c.pos]
	c.pos++
	return r, true
}

func (c *sqliteCursor) Err() error { return c.err }

func (c *sqliteCursor) Close() error {
	c.done = true
	c.page = nil
	return nil
}

// fill loads the next page. It returns false at end of data or on error.
func (c *sqliteCursor) fill(ctx context.Context) bool {
	if c.done || c.err != nil {
		c.pos, c.page = 0, nil
		return false
	}
	if c.s.closed.Load() {
		c.err = ErrClosed
		return false
	}
	size := sqlitePageSize
	if c.q.Limit > 0 {
		if c.remaining <= 0 {
			c.done = true
			return false
		}
		size = min(size, c.remaining)
	}

	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT hash, url, status, load_date FROM documents
		WHERE fresh_date IS NOT NULL AND load_date IS NOT NULL AND fresh_date <= ? AND load_date <= ?`
	fresh, loadd := c.q.FreshBefore.UnixMilli(), c.q.LoadBefore.UnixMilli()
	if !c.started {
		rows, err = c.s.db.QueryContext(ctx, cols+` ORDER BY load_date ASC, hash ASC LIMIT ?`, fresh, loadd, size)
	} else {
		rows, err = c.s.db.QueryContext(ctx,
			cols+` AND (load_date > ? OR (load_date = ? AND hash > ?)) ORDER BY load_date ASC, hash ASC LIMIT ?`,
			fresh, loadd, c.lastDate, c.lastDate, c.lastHash, size)
	}
	if err != nil {
		c.err = fmt.Errorf("query stale documents: %w", err)
		return false
	}
	defer rows.Close()

	c.page = c.page[:0]
	c.pos = 0
	for rows.Next() {
		var (
			r      Record
			status sql.NullInt64
			ms     int64
		)
		if err := rows.Scan(&r.Hash, &r.URL, &status, &ms); err != nil {
			c.err = fmt.Errorf("scan stale document: %w", err)
			return false
		}
		r.Status = intPtr(status)
		r.LoadDate = time.UnixMilli(ms).UTC()
		c.lastDate, c.lastHash = ms, r.Hash
		c.page = append(c.page, r)
	}
	if err := rows.Err(); err != nil {
		c.err = fmt.Errorf("read stale documents: %w", err)
		return false
	}
	c.started = true
	if c.q.Limit > 0 {
		c.remaining -= len(c.page)
	}
	// A short page is the last one.
	if len(c.page) < size {
		c.done = true
	}
	return len(c.page) > 0
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
