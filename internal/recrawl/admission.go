package recrawl

import (
	"fmt"
	"net/url"

	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
)

const initiator = "recrawl"

// Pipeline admits candidates one at a time. Acceptance is judged against the
// first profile of the chain; pushes walk the chain until one accepts.
type Pipeline struct {
	acceptor Acceptor
	queue    Queue
	chain    []*profile.Profile
}

// NewPipeline builds a pipeline over the chain [primary, fallback...].
func NewPipeline(acceptor Acceptor, queue Queue, chain ...*profile.Profile) *Pipeline {
	return &Pipeline{acceptor: acceptor, queue: queue, chain: chain}
}

// Admission is the result of one candidate together with the rejections
// collected on the way.
type Admission struct {
	Result     Result
	Profile    string
	Rejections []Rejection
}

func (p *Pipeline) Admit(c Candidate) Admission {
	if len(p.chain) == 0 {
		return skip(c, StageChangeable, "no profile configured")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return skip(c, StageChangeable, fmt.Sprintf("unparsable url: %v", err))
	}
	primary := p.chain[0]
	if reason := p.acceptor.CheckChangeable(u, primary, 0); reason != "" {
		return skip(c, StageChangeable, reason)
	}
	if reason := p.acceptor.CheckInitially(u, primary); reason != "" {
		return skip(c, StageInitial, reason)
	}

	req := frontier.NewRequest(u, initiator)
	var rejections []Rejection
	for i, prof := range p.chain {
		reason := p.queue.Push(req, prof)
		if reason == "" {
			res := ResultAdmitted
			if i > 0 {
				res = ResultAdmittedFallback
			}
			return Admission{Result: res, Profile: prof.Name, Rejections: rejections}
		}
		stage := StageFallback
		if i == 0 {
			stage = StagePrimary
		}
		rejections = append(rejections, Rejection{URL: c.URL, Stage: stage, Reason: reason})
	}
	// Every profile refused. The index entry is kept so a later cycle retries.
	return Admission{Result: ResultFailedBoth, Rejections: rejections}
}

func skip(c Candidate, stage, reason string) Admission {
	return Admission{Result: ResultSkipped, Rejections: []Rejection{{URL: c.URL, Stage: stage, Reason: reason}}}
}
