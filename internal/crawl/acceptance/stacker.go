// Package acceptance decides whether a URL may enter the frontier under a
// given profile. Both checks return "" to accept or a human-readable reason.
package acceptance

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/storage"
	logx "recrawler/pkg/logx"
)

const (
	DefaultMaxURLLength = 2048
	indexLookupTimeout  = 2 * time.Second
)

type Config struct {
	BlacklistHosts []string
	MaxURLLength   int
}

// QueueLookup finds a request already waiting in the frontier.
type QueueLookup interface {
	Has(hash string) (frontier.Stack, bool)
}

// IndexLookup reads a document by hash.
type IndexLookup interface {
	Get(ctx context.Context, hash string) (storage.Document, bool, error)
}

type Stacker struct {
	queue QueueLookup
	index IndexLookup
	log   logx.Logger
	now   func() time.Time

	mu        sync.RWMutex
	blacklist map[string]struct{}
	maxLen    int
}

// NewStacker builds a Stacker. index may be nil, which disables the
// recrawl-age check.
func NewStacker(cfg Config, queue QueueLookup, index IndexLookup, log logx.Logger) *Stacker {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Stacker{queue: queue, index: index, log: log, now: time.Now}
	s.Apply(cfg)
	return s
}

func (s *Stacker) Apply(cfg Config) {
	bl := make(map[string]struct{}, len(cfg.BlacklistHosts))
	for _, h := range cfg.BlacklistHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			bl[strings.TrimPrefix(h, ".")] = struct{}{}
		}
	}
	maxLen := cfg.MaxURLLength
	if maxLen <= 0 {
		maxLen = DefaultMaxURLLength
	}
	s.mu.Lock()
	s.blacklist = bl
	s.maxLen = maxLen
	s.mu.Unlock()
}

// CheckChangeable applies the rules that depend on profile and policy:
// scheme, depth, must-match, must-not-match and the host blacklist.
func (s *Stacker) CheckChangeable(u *url.URL, p *profile.Profile, depth int) string {
	if u == nil {
		return "url is nil"
	}
	if p == nil {
		return "no profile"
	}
	if !p.AllowsScheme(u.Scheme) {
		return fmt.Sprintf("protocol not supported: %s", u.Scheme)
	}
	if depth > p.MaxDepth {
		return fmt.Sprintf("depth %d exceeds profile max %d", depth, p.MaxDepth)
	}
	raw := u.String()
	if p.MustMatch != nil && !p.MustMatch.MatchString(raw) {
		return fmt.Sprintf("url does not match must-match filter of profile %s", p.Name)
	}
	if p.MustNotMatch != nil && p.MustNotMatch.MatchString(raw) {
		return fmt.Sprintf("url matches must-not-match filter of profile %s", p.Name)
	}
	if host := strings.ToLower(u.Hostname()); s.blacklisted(host) {
		return fmt.Sprintf("url host in blacklist: %s", host)
	}
	return ""
}

func (s *Stacker) blacklisted(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for h := host; h != ""; {
		if _, ok := s.blacklist[h]; ok {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	return false
}

// CheckInitially applies the rules about the URL itself: length, presence in
// the frontier and, when the profile sets RecrawlIfOlder, how recently the
// index loaded it.
func (s *Stacker) CheckInitially(u *url.URL, p *profile.Profile) string {
	if u == nil {
		return "url is nil"
	}
	raw := u.String()
	s.mu.RLock()
	maxLen := s.maxLen
	s.mu.RUnlock()
	if len(raw) > maxLen {
		return fmt.Sprintf("url too long (%d > %d)", len(raw), maxLen)
	}

	hash := storage.HashURL(raw)
	if s.queue != nil {
		if st, ok := s.queue.Has(hash); ok {
			return fmt.Sprintf("double in: %s", st)
		}
	}

	if p == nil || p.RecrawlIfOlder <= 0 || s.index == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexLookupTimeout)
	defer cancel()
	doc, ok, err := s.index.Get(ctx, hash)
	if err != nil {
		// An unreadable index does not block admission.
		s.log.Debug("index lookup failed", logx.String("url", raw), logx.Err(err))
		return ""
	}
	if ok && !doc.LoadDate.IsZero() && doc.LoadDate.After(s.now().Add(-p.RecrawlIfOlder)) {
		return fmt.Sprintf("double in: index, oldDate=%s", doc.LoadDate.UTC().Format(time.RFC3339))
	}
	return ""
}
