package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrClosed        = errors.New("index closed")
	ErrNoDriver      = errors.New("index driver is required")
	ErrUnknownDriver = errors.New("unknown index driver")
	ErrNoKey         = errors.New("document needs a url or a hash")
)

// Config configures the index.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "file": snapshot + journal under the directory Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Document is one indexed resource. A zero FreshDate or LoadDate means the
// field is absent and the document never matches a stale query.
type Document struct {
	Hash      string    `json:"hash"`
	URL       string    `json:"url"`
	Status    *int      `json:"status,omitempty"`
	FreshDate time.Time `json:"fresh_date"`
	LoadDate  time.Time `json:"load_date"`
	Depth     int       `json:"depth,omitempty"`
}

// StaleQuery selects documents whose fresh date and load date are both at or
// before the given instants, oldest load date first. Limit <= 0 means no bound.
type StaleQuery struct {
	FreshBefore time.Time
	LoadBefore  time.Time
	Limit       int
}

// Window builds a StaleQuery whose cutoffs are counted in whole days back
// from the start of now's UTC day.
func Window(now time.Time, freshDays, loadDays, limit int) StaleQuery {
	day := now.UTC().Truncate(24 * time.Hour)
	return StaleQuery{
		FreshBefore: day.AddDate(0, 0, -freshDays),
		LoadBefore:  day.AddDate(0, 0, -loadDays),
		Limit:       limit,
	}
}

func (q StaleQuery) matches(d Document) bool {
	if d.FreshDate.IsZero() || d.LoadDate.IsZero() {
		return false
	}
	return !d.FreshDate.After(q.FreshBefore) && !d.LoadDate.After(q.LoadBefore)
}

// Record is the projection a stale query returns. URL may be blank for a
// corrupt entry; consumers decide how to treat it.
type Record struct {
	Hash     string
	URL      string
	Status   *int
	LoadDate time.Time
}

// Cursor streams query results. It is single-use and not safe for
// concurrent use.
type Cursor interface {
	Next(ctx context.Context) (Record, bool)
	Err() error
	Close() error
}

// Store is the index API.
type Store interface {
	QueryStale(ctx context.Context, q StaleQuery) (Cursor, error)
	Upsert(ctx context.Context, d Document) error
	Get(ctx context.Context, hash string) (Document, bool, error)
	// Remove is index maintenance. The recrawl cycle never calls it: a
	// candidate no profile accepts stays indexed.
	Remove(ctx context.Context, hash string) (bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// HashURL returns the document key for a URL: the first 24 hex characters of
// the SHA-256 of its normalized form (lower-case scheme and host, no fragment).
func HashURL(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(raw)))
	return hex.EncodeToString(sum[:])[:24]
}

// NormalizeURL lower-cases scheme and host and drops the fragment. Unparsable
// input is returned trimmed.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func keyOf(d *Document) error {
	d.URL = strings.TrimSpace(d.URL)
	d.Hash = strings.TrimSpace(d.Hash)
	if d.Hash != "" {
		return nil
	}
	if d.URL == "" {
		return ErrNoKey
	}
	d.Hash = HashURL(d.URL)
	return nil
}
