package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ImportJSONL upserts one document per JSON line read from r. Blank lines are
// skipped. Times are RFC 3339. It stops at the first bad line and returns the
// number of documents written before it.
func ImportJSONL(ctx context.Context, st Store, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n, line := 0, 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var d Document
		if err := json.Unmarshal(b, &d); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := st.Upsert(ctx, d); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	return n, sc.Err()
}
