package recrawl

import (
	"context"
	"net/url"

	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/storage"
)

// Index serves the stale-document query.
type Index interface {
	QueryStale(ctx context.Context, q storage.StaleQuery) (storage.Cursor, error)
}

// Queue is the active fetch queue. Push returns "" on success or a rejection
// reason; it must be safe for concurrent producers.
type Queue interface {
	Occupancy() int
	Push(req frontier.Request, p *profile.Profile) string
}

// Acceptor runs the two acceptance stages. Both return "" to accept.
type Acceptor interface {
	CheckChangeable(u *url.URL, p *profile.Profile, depth int) string
	CheckInitially(u *url.URL, p *profile.Profile) string
}

type Profiles interface {
	Get(name string) (*profile.Profile, bool)
}

// Observer receives every finished cycle.
type Observer interface {
	ObserveCycle(o CycleOutcome)
}
