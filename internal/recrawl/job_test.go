package recrawl

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recrawler/internal/crawl/acceptance"
	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/eventbus"
	"recrawler/internal/storage"
	logx "recrawler/pkg/logx"
)

var testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func registry(t *testing.T) *profile.Registry {
	t.Helper()
	r, err := profile.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func newJob(t *testing.T, s Settings, d Deps) *Job {
	t.Helper()
	if d.Profiles == nil {
		d.Profiles = registry(t)
	}
	j := New(s, d, logx.Nop(), nil)
	j.now = func() time.Time { return testNow }
	return j
}

func rec(u string, loadDaysAgo int) storage.Record {
	return storage.Record{URL: u, LoadDate: testNow.AddDate(0, 0, -loadDaysAgo)}
}

func TestMayRun(t *testing.T) {
	t.Parallel()
	tests := []struct {
		q, c int
		want bool
	}{
		{0, 500, true},
		{500, 500, true},
		{501, 500, false},
		{600, 500, false},
		{0, 0, true},
		{1, 0, false},
	}
	for _, tt := range tests {
		if got := MayRun(tt.q, tt.c); got != tt.want {
			t.Fatalf("MayRun(%d, %d) = %v, want %v", tt.q, tt.c, got, tt.want)
		}
	}
}

func TestGateClosedSkipsQuery(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{rows: []storage.Record{rec("http://a.example/", 400)}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	j := New(Settings{MaxQueueSize: 500}, Deps{Index: idx, Queue: &fakeQueue{occupancy: 600}, Acceptor: &fakeAcceptor{}, Profiles: registry(t)}, logx.Nop(), bus)
	out := j.RunCycle(context.Background())

	if idx.queryCount() != 0 {
		t.Fatalf("queries = %d, want 0", idx.queryCount())
	}
	if out.GateOpen || !out.Aborted || out.Total != 0 {
		t.Fatalf("outcome = %+v, want gated abort with 0 candidates", out)
	}
	if !strings.Contains(out.Summary(), "0 candidates seen") {
		t.Fatalf("summary = %q", out.Summary())
	}
	ev := <-events
	if ev.Type != eventbus.TypeRecrawlGate {
		t.Fatalf("first event = %s, want %s", ev.Type, eventbus.TypeRecrawlGate)
	}
	if g := ev.Data.(GateEvent); g.QueueSize != 600 || g.Ceiling != 500 || g.Open {
		t.Fatalf("gate event = %+v", g)
	}
	if ev := <-events; ev.Type != eventbus.TypeRecrawlCycle {
		t.Fatalf("second event = %s, want %s", ev.Type, eventbus.TypeRecrawlCycle)
	}
}

func TestZeroCeilingGatesNonEmptyQueue(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		occupancy int
		wantOpen  bool
	}{
		{occupancy: 0, wantOpen: true},
		{occupancy: 1, wantOpen: false},
	} {
		idx := &fakeIndex{rows: []storage.Record{rec("http://a.example/", 400)}}
		j := newJob(t, Settings{MaxQueueSize: 0}, Deps{Index: idx, Queue: &fakeQueue{occupancy: tt.occupancy}, Acceptor: &fakeAcceptor{}})
		if got := j.Settings().MaxQueueSize; got != 0 {
			t.Fatalf("ceiling = %d, want 0", got)
		}
		out := j.RunCycle(context.Background())
		if out.GateOpen != tt.wantOpen || out.Ceiling != 0 {
			t.Fatalf("occupancy %d: outcome = %+v, want open=%v ceiling 0", tt.occupancy, out, tt.wantOpen)
		}
		wantQueries := 0
		if tt.wantOpen {
			wantQueries = 1
		}
		if idx.queryCount() != wantQueries {
			t.Fatalf("occupancy %d: queries = %d, want %d", tt.occupancy, idx.queryCount(), wantQueries)
		}
	}
}

func TestZeroDaysKept(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{}
	j := newJob(t, Settings{Days: 0}, Deps{Index: idx, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
	j.RunCycle(context.Background())
	if len(idx.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(idx.queries))
	}
	want := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	if got := idx.queries[0].LoadBefore; !got.Equal(want) {
		t.Fatalf("LoadBefore = %v, want %v", got, want)
	}
}

func TestMixedBatch(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{rows: []storage.Record{
		rec("http://a.example/", 700),
		rec("http://b.example/", 600),
		rec("http://c.example/", 500),
	}}
	acc := &fakeAcceptor{changeable: func(u *url.URL) string {
		if u.Host == "b.example" {
			return "url host in blacklist: b.example"
		}
		return ""
	}}
	q := &fakeQueue{occupancy: 100, push: func(req frontier.Request, p *profile.Profile) string {
		if strings.Contains(req.URL, "c.example") && p.Name == profile.Local {
			return "host c.example exceeds quota"
		}
		return ""
	}}
	j := newJob(t, Settings{MaxQueueSize: 500}, Deps{Index: idx, Queue: q, Acceptor: acc})
	out := j.RunCycle(context.Background())

	if out.Aborted {
		t.Fatalf("unexpected abort: %s", out.AbortReason)
	}
	if out.Admitted != 1 || out.Skipped != 1 || out.AdmittedViaFallback != 1 || out.FailedBoth != 0 || out.Total != 3 {
		t.Fatalf("outcome = %+v, want admitted 1 skipped 1 fallback 1 failed 0 total 3", out)
	}
	want := []pushCall{
		{URL: "http://a.example/", Profile: profile.Local},
		{URL: "http://c.example/", Profile: profile.Local},
		{URL: "http://c.example/", Profile: profile.Remote},
	}
	if len(q.calls) != len(want) {
		t.Fatalf("push calls = %+v, want %+v", q.calls, want)
	}
	for i := range want {
		if q.calls[i] != want[i] {
			t.Fatalf("push %d = %+v, want %+v", i, q.calls[i], want[i])
		}
	}
	if len(out.Rejections) != 2 || out.Rejections[0].Stage != StageChangeable || out.Rejections[1].Stage != StagePrimary {
		t.Fatalf("rejections = %+v", out.Rejections)
	}
	if acc.initCalls != 2 {
		t.Fatalf("initial checks = %d, want 2 (changeable rejection must short-circuit)", acc.initCalls)
	}
	if last, ok := j.Last(); !ok || last.ID != out.ID {
		t.Fatal("Last did not return the finished cycle")
	}
}

func TestQueryFailure(t *testing.T) {
	t.Parallel()
	connErr := errors.New("connection refused")
	for name, idx := range map[string]*fakeIndex{
		"query":  {queryErr: connErr},
		"cursor": {cursErr: connErr},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			j := newJob(t, Settings{}, Deps{Index: idx, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
			out := j.RunCycle(context.Background())
			if !out.Aborted || out.Total != 0 || !out.GateOpen {
				t.Fatalf("outcome = %+v, want open-gate abort with 0 candidates", out)
			}
			if !errors.Is(out.Err, ErrQueryFailed) {
				t.Fatalf("Err = %v, want ErrQueryFailed", out.Err)
			}
			if !strings.Contains(out.Summary(), "aborted after 0 candidates") {
				t.Fatalf("summary = %q", out.Summary())
			}
		})
	}
}

func TestCursorFailureKeepsEarlierAdmissions(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{rows: []storage.Record{rec("http://a.example/", 400)}, cursErr: errors.New("reset by peer")}
	q := &fakeQueue{}
	j := newJob(t, Settings{}, Deps{Index: idx, Queue: q, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(context.Background())
	if !out.Aborted || out.Total != 1 || out.Admitted != 1 || len(q.calls) != 1 {
		t.Fatalf("outcome = %+v calls = %d", out, len(q.calls))
	}
}

func TestMalformedAndDuplicates(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{rows: []storage.Record{
		{Hash: "h-blank", URL: "  ", LoadDate: testNow},
		rec("http://a.example/", 400),
		rec("not a url", 399),
		rec("http://a.example/", 398),
		rec("http://b.example/", 397),
	}}
	q := &fakeQueue{}
	j := newJob(t, Settings{}, Deps{Index: idx, Queue: q, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(context.Background())
	if out.Malformed != 2 || out.Total != 2 || out.Admitted != 2 {
		t.Fatalf("outcome = %+v, want malformed 2 total 2 admitted 2", out)
	}
	if len(q.calls) != 2 {
		t.Fatalf("push calls = %d, want 2", len(q.calls))
	}
}

func TestWindowAndLimit(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{}
	j := newJob(t, Settings{Rows: 7, Days: 90}, Deps{Index: idx, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
	j.RunCycle(context.Background())
	if len(idx.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(idx.queries))
	}
	q := idx.queries[0]
	wantFresh := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	wantLoad := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	if !q.FreshBefore.Equal(wantFresh) || !q.LoadBefore.Equal(wantLoad) || q.Limit != 7 {
		t.Fatalf("query = %+v, want fresh %v load %v limit 7", q, wantFresh, wantLoad)
	}
}

func TestFailedBothKeepsProcessing(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{rows: []storage.Record{rec("http://a.example/", 400), rec("http://b.example/", 399)}}
	q := &fakeQueue{push: func(req frontier.Request, _ *profile.Profile) string {
		if strings.Contains(req.URL, "a.example") {
			return "queue at capacity (1)"
		}
		return ""
	}}
	j := newJob(t, Settings{}, Deps{Index: idx, Queue: q, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(context.Background())
	if out.FailedBoth != 1 || out.Admitted != 1 || out.Total != 2 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestCanceledContextAborts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx := &fakeIndex{rows: []storage.Record{rec("http://a.example/", 400)}}
	j := newJob(t, Settings{}, Deps{Index: idx, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(ctx)
	if !out.Aborted || !errors.Is(out.Err, context.Canceled) || out.Total != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if idx.queryCount() != 0 {
		t.Fatal("canceled cycle must not query")
	}
}

func TestUnknownProfileAborts(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{}
	j := newJob(t, Settings{PrimaryProfile: "nope"}, Deps{Index: idx, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(context.Background())
	if !errors.Is(out.Err, ErrNoProfile) || idx.queryCount() != 0 {
		t.Fatalf("outcome = %+v queries = %d", out, idx.queryCount())
	}
}

func TestLogLinesRateLimited(t *testing.T) {
	t.Parallel()
	rows := make([]storage.Record, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, rec("http://h"+string(rune('a'+i))+".example/", 400-i))
	}
	j := newJob(t, Settings{LogRatePerSec: 3}, Deps{Index: &fakeIndex{rows: rows}, Queue: &fakeQueue{}, Acceptor: &fakeAcceptor{}})
	out := j.RunCycle(context.Background())
	if out.Total != 10 {
		t.Fatalf("Total = %d, want 10", out.Total)
	}
	if out.LogsSuppressed < 1 || out.LogsSuppressed > 7 {
		t.Fatalf("LogsSuppressed = %d, want within [1, 7]", out.LogsSuppressed)
	}
}

// Two cycles over real collaborators: the second sees every URL already
// queued, counts it as skipped and never deletes an index entry.
func TestSecondCycleSkipsQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "idx")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	now := time.Now()
	urls := []string{
		"http://one.example/a", "http://one.example/b", "http://one.example/c",
		"http://two.example/a", "http://three.example/a",
	}
	for i, u := range urls {
		d := storage.Document{URL: u, FreshDate: now.AddDate(0, 0, -60), LoadDate: now.AddDate(-2, 0, -i)}
		if err := st.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	reg, err := profile.NewRegistry(map[string]profile.Spec{profile.Local: {MaxPerHost: 2}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	fr := frontier.New(0)
	stacker := acceptance.NewStacker(acceptance.Config{}, fr, st, logx.Nop())
	j := New(Settings{}, Deps{Index: st, Queue: frontier.Adapter{F: fr, Stack: frontier.StackLocal}, Acceptor: stacker, Profiles: reg}, logx.Nop(), nil)

	first := j.RunCycle(ctx)
	if first.Total != 5 || first.Admitted != 4 || first.AdmittedViaFallback != 1 || first.FailedBoth != 0 {
		t.Fatalf("first = %+v", first)
	}
	second := j.RunCycle(ctx)
	if second.Total != 5 || second.Skipped != 5 || second.Admitted+second.AdmittedViaFallback+second.FailedBoth != 0 {
		t.Fatalf("second = %+v", second)
	}
	for _, r := range second.Rejections {
		if r.Stage != StageInitial || r.Reason != "double in: local" {
			t.Fatalf("rejection = %+v, want initial double in: local", r)
		}
	}
	if n, _ := st.Count(ctx); n != len(urls) {
		t.Fatalf("index count = %d, want %d", n, len(urls))
	}
	if fr.Size() != 5 {
		t.Fatalf("frontier size = %d, want 5", fr.Size())
	}
}

func TestFailedBothRetainsIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "idx")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	now := time.Now()
	urls := []string{"http://a.example/", "http://b.example/"}
	for _, u := range urls {
		if err := st.Upsert(ctx, storage.Document{URL: u, FreshDate: now.AddDate(0, 0, -60), LoadDate: now.AddDate(-2, 0, 0)}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	reg := registry(t)
	remote, _ := reg.Get(profile.Remote)
	// A full frontier rejects both profiles while the local stack stays empty.
	fr := frontier.New(1)
	filler, _ := url.Parse("http://filler.example/")
	if reason := fr.Push(frontier.StackRemote, frontier.NewRequest(filler, "test"), remote); reason != "" {
		t.Fatalf("filler push: %s", reason)
	}
	stacker := acceptance.NewStacker(acceptance.Config{}, fr, st, logx.Nop())
	j := New(Settings{}, Deps{Index: st, Queue: frontier.Adapter{F: fr, Stack: frontier.StackLocal}, Acceptor: stacker, Profiles: reg}, logx.Nop(), nil)

	out := j.RunCycle(ctx)
	if out.FailedBoth != 2 || out.Admitted+out.AdmittedViaFallback != 0 {
		t.Fatalf("outcome = %+v, want 2 failed-both", out)
	}
	if n, _ := st.Count(ctx); n != len(urls) {
		t.Fatalf("index count = %d, want %d", n, len(urls))
	}
	for _, u := range urls {
		if _, ok, err := st.Get(ctx, storage.HashURL(u)); err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v; document must survive a failed-both", u, ok, err)
		}
	}
}
