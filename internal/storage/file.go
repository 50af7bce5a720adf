package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "recrawler/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps the index in memory and persists it under a directory:
//   - index.snapshot.json  (periodic full snapshot)
//   - index.journal.jsonl  (append-only put/del records since the snapshot)
type fileStore struct {
	log logx.Logger

	mu           sync.RWMutex
	docs         map[string]Document
	snapshotPath string
	journal      *os.File
	writes       int
}

type journalRecord struct {
	Op  string    `json:"op"` // "put" | "del"
	Doc *Document `json:"doc,omitempty"`
	Key string    `json:"key,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("index.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	snapPath := filepath.Join(dir, "index.snapshot.json")
	journalPath := filepath.Join(dir, "index.journal.jsonl")

	docs := map[string]Document{}
	if err := loadSnapshot(snapPath, docs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, docs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("index journal had unreadable lines", logx.Int("skipped", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("index opened", logx.String("dir", dir), logx.Int("documents", len(docs)))
	return &fileStore{log: log, docs: docs, snapshotPath: snapPath, journal: jf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Upsert(ctx context.Context, d Document) error {
	_ = ctx
	if err := keyOf(&d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: "put", Doc: &d}); err != nil {
		return err
	}
	s.docs[d.Hash] = d
	return nil
}

func (s *fileStore) Get(ctx context.Context, hash string) (Document, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return Document{}, false, ErrClosed
	}
	d, ok := s.docs[hash]
	return d, ok, nil
}

func (s *fileStore) Remove(ctx context.Context, hash string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	if _, ok := s.docs[hash]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Key: hash}); err != nil {
		return false, err
	}
	delete(s.docs, hash)
	return true, nil
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	return len(s.docs), nil
}

// QueryStale matches under the read lock and returns a cursor over the
// sorted, limited result.
func (s *fileStore) QueryStale(ctx context.Context, q StaleQuery) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.journal == nil {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]Record, 0, 64)
	for _, d := range s.docs {
		if q.matches(d) {
			out = append(out, Record{Hash: d.Hash, URL: d.URL, Status: d.Status, LoadDate: d.LoadDate})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoadDate.Equal(out[j].LoadDate) {
			return out[i].LoadDate.Before(out[j].LoadDate)
		}
		return out[i].Hash < out[j].Hash
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return &sliceCursor{rows: out}, nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("index compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.docs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]Document) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Document
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal records in order and returns how many lines
// could not be decoded.
func replayJournal(path string, out map[string]Document) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch {
		case r.Op == "put" && r.Doc != nil && r.Doc.Hash != "":
			out[r.Doc.Hash] = *r.Doc
		case r.Op == "del" && r.Key != "":
			delete(out, r.Key)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}

type sliceCursor struct {
	rows []Record
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) (Record, bool) {
	if c.pos >= len(c.rows) {
		return Record{}, false
	}
	r := c.rows[c.pos]
	c.pos++
	return r, true
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close() error {
	c.rows = nil
	return nil
}
