// Package fetch sends single DNS query datagrams over UDP and posts the
// outcome back onto the resolver's dispatch loop. One call, one datagram,
// one result: a decoded reply, a timeout, or a network error.
package fetch

import (
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/domain"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

// Dispatcher posts completions onto the resolver's serialized event loop.
type Dispatcher interface {
	Post(fn func())
}

// Client performs UDP fetches. It holds no per-fetch state; each Fetch
// runs on its own goroutine and reports through the dispatcher.
type Client struct {
	dispatch Dispatcher
	logger   log.Logger
}

// New constructs a Client.
func New(dispatch Dispatcher, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Client{dispatch: dispatch, logger: logger}
}

// Fetch sends the question to the server and posts exactly one FetchResult
// back through the dispatcher. A negative timeout disables the deadline.
func (c *Client) Fetch(q domain.Question, server netip.AddrPort, timeout time.Duration, done func(resolver.FetchResult)) {
	go func() {
		res := c.exchange(q, server, timeout)
		c.dispatch.Post(func() { done(res) })
	}()
}

func (c *Client) exchange(q domain.Question, server netip.AddrPort, timeout time.Duration) resolver.FetchResult {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{q.Wire()}

	conn, err := net.Dial("udp", server.String())
	if err != nil {
		return resolver.FetchResult{Err: err}
	}
	co := &dns.Conn{Conn: conn}
	defer co.Close()

	if timeout >= 0 {
		if err := co.SetDeadline(time.Now().Add(timeout)); err != nil {
			return resolver.FetchResult{Err: err}
		}
	}

	if err := co.WriteMsg(m); err != nil {
		return c.errResult(q, server, err)
	}

	for {
		reply, err := co.ReadMsg()
		if err != nil {
			return c.errResult(q, server, err)
		}
		// a datagram with a stale ID is not our reply; keep waiting
		if reply.Id != m.Id {
			c.logger.Debug(map[string]any{
				"question": q.String(),
				"server":   server.String(),
			}, "dropping reply with mismatched id")
			continue
		}
		return resolver.FetchResult{Msg: reply}
	}
}

func (c *Client) errResult(q domain.Question, server netip.AddrPort, err error) resolver.FetchResult {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.logger.Debug(map[string]any{
			"question": q.String(),
			"server":   server.String(),
		}, "fetch timed out")
		return resolver.FetchResult{TimedOut: true}
	}
	c.logger.Debug(map[string]any{
		"question": q.String(),
		"server":   server.String(),
		"error":    err.Error(),
	}, "fetch failed")
	return resolver.FetchResult{Err: err}
}

var _ resolver.Fetcher = (*Client)(nil)
