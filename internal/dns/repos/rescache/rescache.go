// Package rescache implements the resolver cache: a content-addressed
// store of whole messages and single RRsets keyed by (name, type, class),
// LRU-bounded and TTL-aware.
package rescache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/clock"
	"github.com/haukened/rr-resolved/internal/dns/domain"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

// defaultTTL bounds the lifetime of entries whose message carries no
// records (e.g. a cached SERVFAIL final answer).
const defaultTTL = 60 * time.Second

type messageEntry struct {
	msg     *dns.Msg
	expires time.Time
}

type rrsetEntry struct {
	rrs     []dns.RR
	expires time.Time
}

// Cache holds two LRUs sharing one key shape: one for whole messages, one
// for single RRsets. Both are shared by all running queries; the backing
// LRUs are safe for concurrent use.
type Cache struct {
	messages *lru.Cache[string, messageEntry]
	rrsets   *lru.Cache[string, rrsetEntry]
	clk      clock.Clock
}

// New returns a Cache holding up to size entries per store.
func New(size int, clk clock.Clock) (*Cache, error) {
	msgs, err := lru.New[string, messageEntry](size)
	if err != nil {
		return nil, err
	}
	sets, err := lru.New[string, rrsetEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{messages: msgs, rrsets: sets, clk: clk}, nil
}

// LookupMessage returns a copy of the stored message for the question, if
// present and not expired.
func (c *Cache) LookupMessage(q domain.Question) (*dns.Msg, bool) {
	key := q.CacheKey()
	e, ok := c.messages.Get(key)
	if !ok {
		return nil, false
	}
	if c.clk.Now().After(e.expires) {
		c.messages.Remove(key)
		return nil, false
	}
	return e.msg.Copy(), true
}

// LookupRRset returns a copy of the stored RRset for the question, if
// present and not expired. Used as a secondary path after a message miss.
func (c *Cache) LookupRRset(q domain.Question) ([]dns.RR, bool) {
	key := q.CacheKey()
	e, ok := c.rrsets.Get(key)
	if !ok {
		return nil, false
	}
	if c.clk.Now().After(e.expires) {
		c.rrsets.Remove(key)
		return nil, false
	}
	out := make([]dns.RR, len(e.rrs))
	for i, rr := range e.rrs {
		out[i] = dns.Copy(rr)
	}
	return out, true
}

// Update inserts or refreshes entries from a message: the whole message
// under its question key, and every answer- and authority-section RRset
// with a non-zero TTL under its own key. Overwrites are allowed.
func (c *Cache) Update(msg *dns.Msg) {
	if msg == nil || len(msg.Question) != 1 {
		return
	}
	now := c.clk.Now()

	q := domain.FromWire(msg.Question[0])
	ttl := time.Duration(domain.MinTTL(msg, uint32(defaultTTL/time.Second))) * time.Second
	c.messages.Add(q.CacheKey(), messageEntry{
		msg:     msg.Copy(),
		expires: now.Add(ttl),
	})

	for _, section := range [][]dns.RR{msg.Answer, msg.Ns} {
		order, groups := domain.GroupRRsets(section)
		for _, k := range order {
			rrs := groups[k]
			setTTL := time.Duration(rrs[0].Header().Ttl) * time.Second
			if setTTL <= 0 {
				continue
			}
			copied := make([]dns.RR, len(rrs))
			for i, rr := range rrs {
				copied[i] = dns.Copy(rr)
			}
			c.rrsets.Add(k.CacheKey(), rrsetEntry{
				rrs:     copied,
				expires: now.Add(setTTL),
			})
		}
	}
}

// Remove evicts the message and RRset entries for a question key.
func (c *Cache) Remove(q domain.Question) {
	c.messages.Remove(q.CacheKey())
	c.rrsets.Remove(q.CacheKey())
}

// Len returns the number of message entries currently stored.
func (c *Cache) Len() int {
	return c.messages.Len()
}

var _ resolver.Cache = (*Cache)(nil)
