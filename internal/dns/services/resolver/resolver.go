// Package resolver contains the recursive resolution engine: a facade that
// answers questions from cache when it can, and a per-query state machine
// that iterates the delegation hierarchy (or forwards upstream) when it
// cannot.
package resolver

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/clock"
	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/domain"
	"github.com/haukened/rr-resolved/internal/dns/infra/reactor"
)

const defaultDNSPort = 53

// Resolver is the public entry point for resolutions. It owns the shared
// collaborators (cache, address store, fetcher, reactor) and the timeout
// and retry policy applied to every query.
type Resolver struct {
	reactor   *reactor.Reactor
	cache     Cache
	addresses AddressStore
	fetcher   Fetcher
	clock     clock.Clock
	logger    log.Logger

	// upstream non-empty switches every resolution to forwarding mode
	upstream []netip.AddrPort

	queryTimeout  time.Duration
	clientTimeout time.Duration
	lookupTimeout time.Duration
	retries       int

	active atomic.Int64
}

// Options configures a Resolver. Negative timeouts disable the
// corresponding deadline.
type Options struct {
	Reactor   *reactor.Reactor
	Cache     Cache
	Addresses AddressStore
	Fetcher   Fetcher
	Clock     clock.Clock
	Logger    log.Logger

	Upstream []netip.AddrPort

	QueryTimeout  time.Duration
	ClientTimeout time.Duration
	LookupTimeout time.Duration
	Retries       int
}

// New constructs a Resolver from Options.
func New(opts Options) *Resolver {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Resolver{
		reactor:       opts.Reactor,
		cache:         opts.Cache,
		addresses:     opts.Addresses,
		fetcher:       opts.Fetcher,
		clock:         clk,
		logger:        logger,
		upstream:      opts.Upstream,
		queryTimeout:  opts.QueryTimeout,
		clientTimeout: opts.ClientTimeout,
		lookupTimeout: opts.LookupTimeout,
		retries:       opts.Retries,
	}
}

// Resolve answers the question through the handler, exactly once as
// observed by the caller. A full cache hit completes synchronously;
// otherwise a running query is created on the reactor and drives itself
// until success, synthesized failure, or the lookup deadline.
func (r *Resolver) Resolve(q domain.Question, handler ResolutionHandler) {
	r.logger.Debug(map[string]any{"question": q.String()}, "asked to resolve")

	answer := domain.NewResponse(q)

	// whole-message cache probe; a hit must actually answer the question
	if msg, ok := r.cache.LookupMessage(q); ok && len(msg.Answer) > 0 {
		r.logger.Debug(map[string]any{"question": q.String()}, "message found in cache, returning that")
		domain.CopyResponse(msg, answer)
		answer.Rcode = dns.RcodeSuccess
		handler.Success(answer)
		return
	}

	// secondary probe: perhaps we hold the single RRset
	if rrs, ok := r.cache.LookupRRset(q); ok {
		r.logger.Debug(map[string]any{"question": q.String()}, "found single rrset in cache")
		answer.Answer = append(answer.Answer, rrs...)
		answer.Rcode = dns.RcodeSuccess
		handler.Success(answer)
		return
	}

	r.reactor.Post(func() {
		newRunningQuery(r, q, answer, handler).start()
	})
}

// ActiveQueries reports the number of running queries that have not yet
// been torn down.
func (r *Resolver) ActiveQueries() int64 {
	return r.active.Load()
}
