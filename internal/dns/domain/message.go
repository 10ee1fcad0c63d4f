package domain

import (
	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/utils"
)

// NewResponse creates a render-role response message carrying the question.
// This is the buffer a resolution assembles its final answer into.
func NewResponse(q Question) *dns.Msg {
	m := new(dns.Msg)
	m.Response = true
	m.Opcode = dns.OpcodeQuery
	m.RecursionAvailable = true
	m.Rcode = dns.RcodeSuccess
	m.Question = []dns.Question{q.Wire()}
	return m
}

// MakeErrorResponse clears the answer parts of a response and sets the
// rcode, leaving the question section intact.
func MakeErrorResponse(m *dns.Msg, rcode int) {
	m.Answer = nil
	m.Ns = nil
	m.Extra = nil
	m.Rcode = rcode
	m.Response = true
}

// CopyResponse copies the rcode and appends the three record sections of
// src onto dst. Appending matters: a final answer must not clobber a CNAME
// chain already accumulated in dst. The question section of dst is kept.
func CopyResponse(src, dst *dns.Msg) {
	dst.Rcode = src.Rcode
	dst.Authoritative = src.Authoritative
	dst.Answer = append(dst.Answer, copyRRs(src.Answer)...)
	dst.Ns = append(dst.Ns, copyRRs(src.Ns)...)
	dst.Extra = append(dst.Extra, copyRRs(src.Extra)...)
}

// AppendAnswerSection appends src's answer records to dst's answer section.
// Used while accumulating a CNAME chain.
func AppendAnswerSection(dst, src *dns.Msg) {
	dst.Answer = append(dst.Answer, copyRRs(src.Answer)...)
}

func copyRRs(rrs []dns.RR) []dns.RR {
	if len(rrs) == 0 {
		return nil
	}
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		out[i] = dns.Copy(rr)
	}
	return out
}

// MinTTL returns the smallest TTL across all records of a message, or def
// when the message carries no records.
func MinTTL(m *dns.Msg, def uint32) uint32 {
	min := def
	seen := false
	for _, sec := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range sec {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			if !seen || rr.Header().Ttl < min {
				min = rr.Header().Ttl
				seen = true
			}
		}
	}
	return min
}

// RRsetKey identifies an RRset inside a message section.
type RRsetKey struct {
	Name  string
	Type  uint16
	Class uint16
}

// CacheKey returns the cache key for the RRset identity.
func (k RRsetKey) CacheKey() string {
	return GenerateCacheKey(k.Name, k.Type, k.Class)
}

// GroupRRsets splits a record section into RRsets, preserving first-seen
// order of the owner/type/class groups.
func GroupRRsets(rrs []dns.RR) ([]RRsetKey, map[RRsetKey][]dns.RR) {
	var order []RRsetKey
	groups := make(map[RRsetKey][]dns.RR)
	for _, rr := range rrs {
		h := rr.Header()
		if h.Rrtype == dns.TypeOPT {
			continue
		}
		k := RRsetKey{
			Name:  utils.CanonicalDNSName(h.Name),
			Type:  h.Rrtype,
			Class: h.Class,
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rr)
	}
	return order, groups
}
