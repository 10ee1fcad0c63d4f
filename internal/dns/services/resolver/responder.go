package resolver

import (
	"context"
	"net"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/domain"
)

// Responder adapts the asynchronous engine to the request/response shape a
// server transport expects. Denylisted names are refused before they reach
// the engine.
type Responder struct {
	resolver *Resolver
	denylist Denylist
	logger   log.Logger
}

// NewResponder constructs a Responder. denylist may be nil.
func NewResponder(r *Resolver, denylist Denylist, logger log.Logger) *Responder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Responder{resolver: r, denylist: denylist, logger: logger}
}

// channelHandler bridges the completion handle onto a channel the serving
// goroutine blocks on.
type channelHandler struct {
	ch chan *dns.Msg
}

func (h *channelHandler) Success(answer *dns.Msg) {
	select {
	case h.ch <- answer:
	default:
	}
}

func (h *channelHandler) Failure() {
	select {
	case h.ch <- nil:
	default:
	}
}

// HandleRequest resolves one inbound query and returns the wire response.
// It never returns nil: failures come back as SERVFAIL and malformed
// queries as FORMERR.
func (r *Responder) HandleRequest(ctx context.Context, query *dns.Msg, clientAddr net.Addr) *dns.Msg {
	if len(query.Question) != 1 {
		reply := new(dns.Msg)
		reply.SetRcode(query, dns.RcodeFormatError)
		return reply
	}

	q := domain.FromWire(query.Question[0])
	if err := q.Validate(); err != nil {
		r.logger.Debug(map[string]any{
			"client": addrString(clientAddr),
			"error":  err.Error(),
		}, "rejecting malformed question")
		reply := new(dns.Msg)
		reply.SetRcode(query, dns.RcodeFormatError)
		return reply
	}

	if r.denylist != nil && r.denylist.Blocked(q.Name) {
		r.logger.Info(map[string]any{
			"question": q.String(),
			"client":   addrString(clientAddr),
		}, "refusing denylisted name")
		reply := new(dns.Msg)
		reply.SetRcode(query, dns.RcodeNameError)
		return reply
	}

	h := &channelHandler{ch: make(chan *dns.Msg, 2)}
	r.resolver.Resolve(q, h)

	select {
	case answer := <-h.ch:
		if answer == nil {
			reply := new(dns.Msg)
			reply.SetRcode(query, dns.RcodeServerFailure)
			return reply
		}
		reply := answer.Copy()
		reply.Id = query.Id
		return reply
	case <-ctx.Done():
		reply := new(dns.Msg)
		reply.SetRcode(query, dns.RcodeServerFailure)
		return reply
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

var _ DNSResponder = (*Responder)(nil)
