// Package frontier is the in-process fetch queue: three FIFO stacks of crawl
// requests shared by every producer, with duplicate detection and quotas.
package frontier

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"recrawler/internal/crawl/profile"
	"recrawler/internal/storage"
)

type Stack string

const (
	StackLocal  Stack = "local"
	StackGlobal Stack = "global"
	StackRemote Stack = "remote"
)

var stacks = []Stack{StackLocal, StackGlobal, StackRemote}

// Request is one queued fetch.
type Request struct {
	URL           string
	Hash          string
	Host          string
	Depth         int
	Initiator     string
	AppDate       time.Time
	ProfileHandle string
}

// NewRequest builds a depth-0 request for u stamped with the current time.
func NewRequest(u *url.URL, initiator string) Request {
	raw := u.String()
	return Request{
		URL:       raw,
		Hash:      storage.HashURL(raw),
		Host:      strings.ToLower(u.Hostname()),
		Initiator: initiator,
		AppDate:   time.Now().UTC(),
	}
}

// Frontier is safe for concurrent producers and consumers.
type Frontier struct {
	mu       sync.Mutex
	capacity int
	queues   map[Stack][]Request
	where    map[string]Stack
	perHost  map[string]int // handle|host
	perProf  map[string]int // handle
}

// New returns an empty frontier. capacity <= 0 means unbounded.
func New(capacity int) *Frontier {
	f := &Frontier{
		capacity: capacity,
		queues:   make(map[Stack][]Request, len(stacks)),
		where:    map[string]Stack{},
		perHost:  map[string]int{},
		perProf:  map[string]int{},
	}
	return f
}

// Apply changes the capacity. Already queued requests are kept.
func (f *Frontier) Apply(capacity int) {
	f.mu.Lock()
	f.capacity = capacity
	f.mu.Unlock()
}

// Push appends req to stack under profile p. It returns "" on success or the
// rejection reason.
func (f *Frontier) Push(stack Stack, req Request, p *profile.Profile) string {
	if p == nil {
		return "no profile"
	}
	if req.Hash == "" {
		req.Hash = storage.HashURL(req.URL)
	}
	req.ProfileHandle = p.Handle

	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.where[req.Hash]; ok {
		return fmt.Sprintf("double occurrence in %s", s)
	}
	if f.capacity > 0 && len(f.where) >= f.capacity {
		return fmt.Sprintf("queue at capacity (%d)", f.capacity)
	}
	hostKey := p.Handle + "|" + req.Host
	if p.MaxPerHost > 0 && f.perHost[hostKey] >= p.MaxPerHost {
		return fmt.Sprintf("host %s exceeds quota %d of profile %s", req.Host, p.MaxPerHost, p.Name)
	}
	if p.MaxQueued > 0 && f.perProf[p.Handle] >= p.MaxQueued {
		return fmt.Sprintf("profile %s exceeds queued quota %d", p.Name, p.MaxQueued)
	}

	f.queues[stack] = append(f.queues[stack], req)
	f.where[req.Hash] = stack
	f.perHost[hostKey]++
	f.perProf[p.Handle]++
	return ""
}

// Pop removes the oldest request of stack.
func (f *Frontier) Pop(stack Stack) (Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[stack]
	if len(q) == 0 {
		return Request{}, false
	}
	req := q[0]
	q[0] = Request{}
	f.queues[stack] = q[1:]

	delete(f.where, req.Hash)
	hostKey := req.ProfileHandle + "|" + req.Host
	if f.perHost[hostKey]--; f.perHost[hostKey] <= 0 {
		delete(f.perHost, hostKey)
	}
	if f.perProf[req.ProfileHandle]--; f.perProf[req.ProfileHandle] <= 0 {
		delete(f.perProf, req.ProfileHandle)
	}
	return req, true
}

// Has reports which stack holds hash, if any.
func (f *Frontier) Has(hash string) (Stack, bool) {
	f.mu.Lock()
	s, ok := f.where[hash]
	f.mu.Unlock()
	return s, ok
}

func (f *Frontier) Len(stack Stack) int {
	f.mu.Lock()
	n := len(f.queues[stack])
	f.mu.Unlock()
	return n
}

// Size is the total across all stacks.
func (f *Frontier) Size() int {
	f.mu.Lock()
	n := len(f.where)
	f.mu.Unlock()
	return n
}

type Snapshot struct {
	Capacity int           `json:"capacity"`
	Total    int           `json:"total"`
	Stacks   map[Stack]int `json:"stacks"`
}

func (f *Frontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{Capacity: f.capacity, Total: len(f.where), Stacks: make(map[Stack]int, len(stacks))}
	for _, st := range stacks {
		s.Stacks[st] = len(f.queues[st])
	}
	return s
}

// Adapter binds one stack of a Frontier as a recrawl queue.
type Adapter struct {
	F     *Frontier
	Stack Stack
}

// Occupancy is the length of the bound stack.
func (a Adapter) Occupancy() int { return a.F.Len(a.Stack) }

func (a Adapter) Push(req Request, p *profile.Profile) string {
	return a.F.Push(a.Stack, req, p)
}
