package recrawl

import (
	"context"
	"net/url"
	"sync"

	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/storage"
)

type fakeCursor struct {
	rows []storage.Record
	pos  int
	err  error // reported once rows are exhausted
}

func (c *fakeCursor) Next(context.Context) (storage.Record, bool) {
	if c.pos >= len(c.rows) {
		return storage.Record{}, false
	}
	r := c.rows[c.pos]
	c.pos++
	return r, true
}

func (c *fakeCursor) Err() error {
	if c.pos >= len(c.rows) {
		return c.err
	}
	return nil
}

func (c *fakeCursor) Close() error { return nil }

type fakeIndex struct {
	mu       sync.Mutex
	rows     []storage.Record
	queryErr error
	cursErr  error
	queries  []storage.StaleQuery
}

func (f *fakeIndex) QueryStale(_ context.Context, q storage.StaleQuery) (storage.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeCursor{rows: append([]storage.Record(nil), f.rows...), err: f.cursErr}, nil
}

func (f *fakeIndex) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type pushCall struct {
	URL     string
	Profile string
}

type fakeQueue struct {
	occupancy int
	push      func(req frontier.Request, p *profile.Profile) string
	calls     []pushCall
}

func (q *fakeQueue) Occupancy() int { return q.occupancy }

func (q *fakeQueue) Push(req frontier.Request, p *profile.Profile) string {
	q.calls = append(q.calls, pushCall{URL: req.URL, Profile: p.Name})
	if q.push == nil {
		return ""
	}
	return q.push(req, p)
}

type fakeAcceptor struct {
	changeable func(u *url.URL) string
	initially  func(u *url.URL) string
	initCalls  int
}

func (a *fakeAcceptor) CheckChangeable(u *url.URL, _ *profile.Profile, _ int) string {
	if a.changeable == nil {
		return ""
	}
	return a.changeable(u)
}

func (a *fakeAcceptor) CheckInitially(u *url.URL, _ *profile.Profile) string {
	a.initCalls++
	if a.initially == nil {
		return ""
	}
	return a.initially(u)
}
