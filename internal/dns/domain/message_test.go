package domain

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestNewResponse(t *testing.T) {
	q, _ := NewQuestion("example.com.", dns.TypeA, dns.ClassINET)
	m := NewResponse(q)
	assert.True(t, m.Response)
	assert.True(t, m.RecursionAvailable)
	assert.Equal(t, dns.RcodeSuccess, m.Rcode)
	require.Len(t, m.Question, 1)
	assert.Equal(t, "example.com.", m.Question[0].Name)
}

func TestMakeErrorResponse(t *testing.T) {
	q, _ := NewQuestion("example.com.", dns.TypeA, dns.ClassINET)
	m := NewResponse(q)
	m.Answer = []dns.RR{mustRR(t, "example.com. 300 IN A 192.0.2.1")}
	m.Ns = []dns.RR{mustRR(t, "com. 300 IN NS a.gtld.")}

	MakeErrorResponse(m, dns.RcodeServerFailure)

	assert.Equal(t, dns.RcodeServerFailure, m.Rcode)
	assert.Empty(t, m.Answer)
	assert.Empty(t, m.Ns)
	assert.Empty(t, m.Extra)
	require.Len(t, m.Question, 1, "question section survives")
}

func TestCopyResponse(t *testing.T) {
	src := new(dns.Msg)
	src.Rcode = dns.RcodeNameError
	src.Answer = []dns.RR{mustRR(t, "example.com. 300 IN A 192.0.2.1")}
	src.Ns = []dns.RR{mustRR(t, "example.com. 300 IN SOA ns. host. 1 2 3 4 5")}

	q, _ := NewQuestion("example.com.", dns.TypeA, dns.ClassINET)
	dst := NewResponse(q)
	CopyResponse(src, dst)

	assert.Equal(t, dns.RcodeNameError, dst.Rcode)
	require.Len(t, dst.Answer, 1)
	require.Len(t, dst.Ns, 1)
	// records are deep-copied, not aliased
	dst.Answer[0].Header().Ttl = 1
	assert.Equal(t, uint32(300), src.Answer[0].Header().Ttl)
}

func TestAppendAnswerSection(t *testing.T) {
	q, _ := NewQuestion("a.example.", dns.TypeA, dns.ClassINET)
	dst := NewResponse(q)
	src := new(dns.Msg)
	src.Answer = []dns.RR{mustRR(t, "a.example. 300 IN CNAME b.example.")}

	AppendAnswerSection(dst, src)
	AppendAnswerSection(dst, src)
	assert.Len(t, dst.Answer, 2)
}

func TestMinTTL(t *testing.T) {
	m := new(dns.Msg)
	assert.Equal(t, uint32(60), MinTTL(m, 60), "no records yields default")

	m.Answer = []dns.RR{
		mustRR(t, "example.com. 300 IN A 192.0.2.1"),
		mustRR(t, "example.com. 120 IN A 192.0.2.2"),
	}
	m.Ns = []dns.RR{mustRR(t, "com. 3600 IN NS a.gtld.")}
	assert.Equal(t, uint32(120), MinTTL(m, 60))
}

func TestGroupRRsets(t *testing.T) {
	rrs := []dns.RR{
		mustRR(t, "example.com. 300 IN A 192.0.2.1"),
		mustRR(t, "EXAMPLE.com. 300 IN A 192.0.2.2"),
		mustRR(t, "example.com. 300 IN AAAA 2001:db8::1"),
	}
	order, groups := GroupRRsets(rrs)
	require.Len(t, order, 2)
	assert.Equal(t, RRsetKey{Name: "example.com.", Type: dns.TypeA, Class: dns.ClassINET}, order[0])
	assert.Len(t, groups[order[0]], 2, "case-insensitive owners merge")
	assert.Len(t, groups[order[1]], 1)
}
