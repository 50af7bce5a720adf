package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "recrawler/pkg/logx"
)

var day0 = time.Date(2026, 10, 14, 15, 4, 5, 0, time.UTC)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index")
	if driver == "sqlite" {
		path += ".db"
	}
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func daysAgo(n int) time.Time { return day0.AddDate(0, 0, -n) }

func drain(t *testing.T, c Cursor) []Record {
	t.Helper()
	var out []Record
	for {
		r, ok := c.Next(context.Background())
		if !ok {
			break
		}
		out = append(out, r)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	return out
}

func TestWindowTruncatesToUTCDay(t *testing.T) {
	t.Parallel()
	q := Window(day0, 30, 365, 1000)
	wantFresh := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	wantLoad := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)
	if !q.FreshBefore.Equal(wantFresh) {
		t.Fatalf("FreshBefore = %v, want %v", q.FreshBefore, wantFresh)
	}
	if !q.LoadBefore.Equal(wantLoad) {
		t.Fatalf("LoadBefore = %v, want %v", q.LoadBefore, wantLoad)
	}
	if q.Limit != 1000 {
		t.Fatalf("Limit = %d, want 1000", q.Limit)
	}
}

func TestHashURLNormalizes(t *testing.T) {
	t.Parallel()
	a := HashURL("HTTP://Example.COM/a?b=1#frag")
	b := HashURL("http://example.com/a?b=1")
	if a != b {
		t.Fatalf("hash differs: %s vs %s", a, b)
	}
	if len(a) != 24 {
		t.Fatalf("len = %d, want 24", len(a))
	}
	if HashURL("http://example.com/A") == b {
		t.Fatal("path case must matter")
	}
}

func TestQueryStale(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			ctx := context.Background()
			status := 200
			docs := []Document{
				{URL: "http://a.example/old", Status: &status, FreshDate: daysAgo(400), LoadDate: daysAgo(500)},
				{URL: "http://a.example/older", FreshDate: daysAgo(400), LoadDate: daysAgo(600)},
				{URL: "http://a.example/fresh", FreshDate: daysAgo(5), LoadDate: daysAgo(700)},
				{URL: "http://a.example/recent-load", FreshDate: daysAgo(400), LoadDate: daysAgo(10)},
				{URL: "http://a.example/no-dates"},
				{Hash: "corrupt000000000000000000", FreshDate: daysAgo(400), LoadDate: daysAgo(450)},
			}
			for _, d := range docs {
				if err := st.Upsert(ctx, d); err != nil {
					t.Fatalf("Upsert(%s): %v", d.URL, err)
				}
			}
			if n, _ := st.Count(ctx); n != len(docs) {
				t.Fatalf("Count = %d, want %d", n, len(docs))
			}

			c, err := st.QueryStale(ctx, Window(day0, 30, 365, 0))
			if err != nil {
				t.Fatalf("QueryStale: %v", err)
			}
			got := drain(t, c)
			_ = c.Close()
			want := []string{"http://a.example/older", "http://a.example/old", ""}
			if len(got) != len(want) {
				t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
			}
			for i, w := range want {
				if got[i].URL != w {
					t.Fatalf("record %d URL = %q, want %q", i, got[i].URL, w)
				}
			}
			if got[1].Status == nil || *got[1].Status != 200 {
				t.Fatalf("status not carried: %+v", got[1].Status)
			}

			c, err = st.QueryStale(ctx, Window(day0, 30, 365, 1))
			if err != nil {
				t.Fatalf("QueryStale limit: %v", err)
			}
			if got := drain(t, c); len(got) != 1 || got[0].URL != "http://a.example/older" {
				t.Fatalf("limited query = %+v", got)
			}
		})
	}
}

func TestSQLiteCursorPages(t *testing.T) {
	t.Parallel()
	st := openDriver(t, "sqlite")
	ctx := context.Background()
	total := sqlitePageSize*2 + 7
	for i := 0; i < total; i++ {
		d := Document{URL: "http://p.example/" + strings.Repeat("x", i%5) + time.Duration(i).String(),
			FreshDate: daysAgo(400), LoadDate: daysAgo(1000 - i)}
		if err := st.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	c, err := st.QueryStale(ctx, Window(day0, 30, 365, sqlitePageSize+3))
	if err != nil {
		t.Fatalf("QueryStale: %v", err)
	}
	// Reads between pages must not deadlock on the single connection.
	var prev time.Time
	n := 0
	for {
		r, ok := c.Next(ctx)
		if !ok {
			break
		}
		if _, _, err := st.Get(ctx, r.Hash); err != nil {
			t.Fatalf("Get during iteration: %v", err)
		}
		if r.LoadDate.Before(prev) {
			t.Fatalf("out of order at %d: %v before %v", n, r.LoadDate, prev)
		}
		prev = r.LoadDate
		n++
	}
	if n != sqlitePageSize+3 {
		t.Fatalf("rows = %d, want %d", n, sqlitePageSize+3)
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	keep := Document{URL: "http://k.example/", FreshDate: daysAgo(40), LoadDate: daysAgo(400)}
	gone := Document{URL: "http://g.example/"}
	_ = st.Upsert(ctx, keep)
	_ = st.Upsert(ctx, gone)
	if ok, err := st.Remove(ctx, HashURL(gone.URL)); !ok || err != nil {
		t.Fatalf("Remove = %v, %v", ok, err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if n, _ := st.Count(ctx); n != 1 {
		t.Fatalf("Count after replay = %d, want 1", n)
	}
	d, ok, err := st.Get(ctx, HashURL(keep.URL))
	if err != nil || !ok || !d.LoadDate.Equal(keep.LoadDate) {
		t.Fatalf("Get = %+v, %v, %v", d, ok, err)
	}
}

func TestOpenErrorsAndClosed(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); !errors.Is(err, ErrNoDriver) {
		t.Fatalf("empty driver err = %v, want ErrNoDriver", err)
	}
	if _, err := Open(Config{Driver: "solr"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("unknown driver err = %v, want ErrUnknownDriver", err)
	}
	st := openDriver(t, "file")
	_ = st.Close()
	if _, err := st.QueryStale(context.Background(), StaleQuery{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed query err = %v, want ErrClosed", err)
	}
	if err := st.Upsert(context.Background(), Document{}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("keyless upsert err = %v, want ErrNoKey", err)
	}
}

func TestImportJSONL(t *testing.T) {
	t.Parallel()
	st := openDriver(t, "file")
	in := `{"url":"http://i.example/1","status":200,"fresh_date":"2025-01-01T00:00:00Z","load_date":"2024-01-01T00:00:00Z"}

{"url":"http://i.example/2","fresh_date":"2025-01-01T00:00:00Z","load_date":"2024-02-01T00:00:00Z"}
{bad json}
{"url":"http://i.example/3"}
`
	n, err := ImportJSONL(context.Background(), st, strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "line 4") {
		t.Fatalf("err = %v, want line 4 failure", err)
	}
	if n != 2 {
		t.Fatalf("imported = %d, want 2", n)
	}
	d, ok, _ := st.Get(context.Background(), HashURL("http://i.example/1"))
	if !ok || d.Status == nil || *d.Status != 200 {
		t.Fatalf("doc 1 = %+v, %v", d, ok)
	}
}
