package recrawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"recrawler/internal/storage"
)

// Selector turns a window into one stale-document query.
type Selector struct {
	index Index
	now   func() time.Time
}

func NewSelector(index Index) *Selector {
	return &Selector{index: index, now: time.Now}
}

// Select issues the query and returns a lazy stream over its results in
// index order (oldest load date first). The stream must be closed.
func (s *Selector) Select(ctx context.Context, w WindowSpec, limit int) (*CandidateStream, error) {
	q := storage.Window(s.now(), w.FreshAgeDays, w.LoadAgeDays, limit)
	cur, err := s.index.QueryStale(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return &CandidateStream{ctx: ctx, cur: cur, seen: make(map[string]struct{})}, nil
}

// CandidateStream is finite and single pass. Like sql.Rows it keeps the
// context it was opened with.
type CandidateStream struct {
	ctx       context.Context
	cur       storage.Cursor
	seen      map[string]struct{}
	malformed int
	err       error
	closed    bool
}

// Next returns the next well-formed, not yet seen candidate. Records without
// a usable URL are counted as malformed and skipped.
func (s *CandidateStream) Next() (Candidate, bool) {
	if s.closed || s.err != nil {
		return Candidate{}, false
	}
	for {
		r, ok := s.cur.Next(s.ctx)
		if !ok {
			if err := s.cur.Err(); err != nil {
				s.err = fmt.Errorf("%w: %v", ErrQueryFailed, err)
			}
			return Candidate{}, false
		}
		raw := strings.TrimSpace(r.URL)
		if !wellFormed(raw) {
			s.malformed++
			continue
		}
		hash := r.Hash
		if hash == "" {
			hash = storage.HashURL(raw)
		}
		if _, dup := s.seen[hash]; dup {
			continue
		}
		s.seen[hash] = struct{}{}
		return Candidate{URL: raw, Hash: hash, Status: r.Status, LoadDate: r.LoadDate}, true
	}
}

func wellFormed(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Err is the query failure that ended the stream, wrapped in ErrQueryFailed.
func (s *CandidateStream) Err() error { return s.err }

// Malformed counts records skipped for a missing or unusable URL.
func (s *CandidateStream) Malformed() int { return s.malformed }

func (s *CandidateStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cur.Close()
}
