package resolver

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/domain"
)

// ResolutionHandler is the completion handle a caller passes to Resolve.
// Exactly one of Success or Failure is observed per resolution; the engine
// guards internal re-delivery attempts with its answer-sent flag.
type ResolutionHandler interface {
	// Success delivers the assembled answer message. Note that a soft
	// client-timeout deadline delivers a synthesized SERVFAIL through this
	// method as well.
	Success(answer *dns.Msg)
	// Failure signals that the resolution was torn down without producing
	// any message for the caller.
	Failure()
}

// Cache is the resolver cache contract the engine consumes. Lookups come in
// two shapes: a whole stored message, or a single RRset for the same key.
type Cache interface {
	LookupMessage(q domain.Question) (*dns.Msg, bool)
	LookupRRset(q domain.Question) ([]dns.RR, bool)
	// Update inserts or refreshes entries from a message. Overwrites are
	// allowed; the engine calls this for every useful intermediate message
	// and again with the final assembled answer.
	Update(msg *dns.Msg)
}

// ServerAddress is a concrete nameserver address handed out by the address
// store. The engine reports the outcome of every fetch against it.
type ServerAddress interface {
	Addr() netip.AddrPort
	UpdateRTT(rtt time.Duration)
	MarkUnreachable()
}

// AddressRequestCallback receives the outcome of an asynchronous address
// store lookup. At most one lookup is outstanding per running query.
type AddressRequestCallback interface {
	Success(addr ServerAddress)
	Unreachable()
}

// AddressStore resolves a zone name to a server address and remembers RTT.
type AddressStore interface {
	Lookup(zone string, class uint16, cb AddressRequestCallback)
	// Cancel is best-effort; after it returns the callback will not fire.
	Cancel(zone string, class uint16, cb AddressRequestCallback)
	// Seed registers known addresses for a zone (root hints, referral glue).
	Seed(zone string, addrs []netip.AddrPort)
}

// FetchResult is the single outcome of one UDP fetch: a decoded reply, a
// timeout, or a network error.
type FetchResult struct {
	Msg      *dns.Msg
	TimedOut bool
	Err      error
}

// Received reports whether the fetch produced a decoded reply.
func (r FetchResult) Received() bool {
	return !r.TimedOut && r.Err == nil && r.Msg != nil
}

// Fetcher sends one query datagram to one address and posts the completion
// back onto the reactor. A negative timeout disables the fetch deadline.
type Fetcher interface {
	Fetch(q domain.Question, server netip.AddrPort, timeout time.Duration, done func(FetchResult))
}

// DNSResponder processes one inbound wire query and produces the response
// message to write back. Implemented by the service layer and consumed by
// server transports.
type DNSResponder interface {
	HandleRequest(ctx context.Context, query *dns.Msg, clientAddr net.Addr) *dns.Msg
}

// Denylist decides whether a name is administratively blocked before it is
// handed to the engine.
type Denylist interface {
	Blocked(name string) bool
}
