// Package profile holds named crawl profiles: the admission rules and quotas
// a URL is scheduled under.
package profile

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	Local  = "local"
	Remote = "remote"
)

var ErrUnknown = errors.New("unknown profile")

// Profile is an immutable, compiled profile. A nil MustMatch matches
// everything and a nil MustNotMatch matches nothing. MaxPerHost and MaxQueued
// are unlimited when zero; MaxDepth is the deepest depth admitted.
type Profile struct {
	Name           string
	Handle         string
	MustMatch      *regexp.Regexp
	MustNotMatch   *regexp.Regexp
	MaxDepth       int
	Schemes        []string
	MaxPerHost     int
	MaxQueued      int
	RecrawlIfOlder time.Duration
}

// AllowsScheme reports whether scheme is listed; an empty list allows http and https.
func (p *Profile) AllowsScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	if len(p.Schemes) == 0 {
		return scheme == "http" || scheme == "https"
	}
	for _, s := range p.Schemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

// Spec is the uncompiled form of a profile.
type Spec struct {
	MustMatch      string
	MustNotMatch   string
	MaxDepth       int
	Schemes        []string
	MaxPerHost     int
	MaxQueued      int
	RecrawlIfOlder time.Duration
}

// Compile validates s and builds the profile named name.
func Compile(name string, s Spec) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("profile name required")
	}
	if s.MaxDepth < 0 || s.MaxPerHost < 0 || s.MaxQueued < 0 || s.RecrawlIfOlder < 0 {
		return nil, fmt.Errorf("profile %s: limits must be >= 0", name)
	}
	p := &Profile{
		Name:           name,
		Handle:         handleOf(name),
		MaxDepth:       s.MaxDepth,
		Schemes:        append([]string(nil), s.Schemes...),
		MaxPerHost:     s.MaxPerHost,
		MaxQueued:      s.MaxQueued,
		RecrawlIfOlder: s.RecrawlIfOlder,
	}
	var err error
	if expr := strings.TrimSpace(s.MustMatch); expr != "" && expr != ".*" {
		if p.MustMatch, err = regexp.Compile(expr); err != nil {
			return nil, fmt.Errorf("profile %s: must_match: %w", name, err)
		}
	}
	if expr := strings.TrimSpace(s.MustNotMatch); expr != "" {
		if p.MustNotMatch, err = regexp.Compile(expr); err != nil {
			return nil, fmt.Errorf("profile %s: must_not_match: %w", name, err)
		}
	}
	return p, nil
}

func handleOf(name string) string {
	sum := sha256.Sum256([]byte(name))
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}

// DefaultSpecs returns the built-in profiles. "local" is the narrow primary
// profile with a per-host quota; "remote" is the broad fallback.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		Local:  {MaxPerHost: 8},
		Remote: {},
	}
}

// Registry is a concurrency-safe set of profiles replaced wholesale by Apply.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry compiles specs; a nil map uses DefaultSpecs.
func NewRegistry(specs map[string]Spec) (*Registry, error) {
	r := &Registry{}
	if err := r.Apply(specs); err != nil {
		return nil, err
	}
	return r, nil
}

// Apply compiles every spec and swaps the set only if all compiled.
// Built-in profiles missing from specs are kept with their defaults.
func (r *Registry) Apply(specs map[string]Spec) error {
	merged := DefaultSpecs()
	for name, s := range specs {
		merged[strings.TrimSpace(name)] = s
	}
	next := make(map[string]*Profile, len(merged))
	for name, s := range merged {
		p, err := Compile(name, s)
		if err != nil {
			return err
		}
		next[p.Name] = p
	}
	r.mu.Lock()
	r.profiles = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (*Profile, bool) {
	r.mu.RLock()
	p, ok := r.profiles[name]
	r.mu.RUnlock()
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
