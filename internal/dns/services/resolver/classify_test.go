package resolver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-resolved/internal/dns/domain"
)

func classifyQuestion(t *testing.T) domain.Question {
	t.Helper()
	q, err := domain.NewQuestion("www.example.com.", dns.TypeA, dns.ClassINET)
	require.NoError(t, err)
	return q
}

func baseResponse(q domain.Question) *dns.Msg {
	return domain.NewResponse(q)
}

func TestClassify_HeaderChecks(t *testing.T) {
	q := classifyQuestion(t)

	notResponse := baseResponse(q)
	notResponse.Response = false
	assert.Equal(t, CategoryNotResponse, classify(q, notResponse).category)

	badOpcode := baseResponse(q)
	badOpcode.Opcode = dns.OpcodeNotify
	assert.Equal(t, CategoryOpcode, classify(q, badOpcode).category)

	noQuestion := baseResponse(q)
	noQuestion.Question = nil
	assert.Equal(t, CategoryNotOneQuestion, classify(q, noQuestion).category)

	twoQuestions := baseResponse(q)
	twoQuestions.Question = append(twoQuestions.Question, q.Wire())
	assert.Equal(t, CategoryNotOneQuestion, classify(q, twoQuestions).category)

	mismatched := baseResponse(q)
	mismatched.Question = []dns.Question{{Name: "other.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
	assert.Equal(t, CategoryMismatchedQuestion, classify(q, mismatched).category)

	truncated := baseResponse(q)
	truncated.Truncated = true
	assert.Equal(t, CategoryTruncated, classify(q, truncated).category)
}

func TestClassify_Rcodes(t *testing.T) {
	q := classifyQuestion(t)

	nx := baseResponse(q)
	nx.Rcode = dns.RcodeNameError
	assert.Equal(t, CategoryNXDomain, classify(q, nx).category)

	refused := baseResponse(q)
	refused.Rcode = dns.RcodeRefused
	assert.Equal(t, CategoryRcode, classify(q, refused).category)
}

func TestClassify_EmptyAndNoData(t *testing.T) {
	q := classifyQuestion(t)

	empty := baseResponse(q)
	assert.Equal(t, CategoryEmpty, classify(q, empty).category)

	nodata := baseResponse(q)
	nodata.Ns = []dns.RR{mustRR(t, "example.com. 300 IN SOA ns. host. 1 2 3 4 5")}
	assert.Equal(t, CategoryNXRRset, classify(q, nodata).category)
}

func TestClassify_Referral(t *testing.T) {
	q := classifyQuestion(t)
	ref := baseResponse(q)
	ref.Ns = []dns.RR{mustRR(t, "com. 172800 IN NS a.gtld.")}
	ref.Extra = []dns.RR{mustRR(t, "a.gtld. 172800 IN A 192.0.2.20")}
	assert.Equal(t, CategoryReferral, classify(q, ref).category)
}

func TestClassify_DirectAnswer(t *testing.T) {
	q := classifyQuestion(t)
	ans := baseResponse(q)
	ans.Answer = []dns.RR{
		mustRR(t, "www.example.com. 300 IN A 192.0.2.80"),
		mustRR(t, "www.example.com. 300 IN A 192.0.2.81"),
	}
	cls := classify(q, ans)
	assert.Equal(t, CategoryAnswer, cls.category)
	assert.Equal(t, 0, cls.cnameHops)
}

func TestClassify_AnswerThroughCNAME(t *testing.T) {
	q := classifyQuestion(t)
	ans := baseResponse(q)
	ans.Answer = []dns.RR{
		mustRR(t, "www.example.com. 300 IN CNAME web.example.com."),
		mustRR(t, "web.example.com. 300 IN A 192.0.2.80"),
	}
	cls := classify(q, ans)
	assert.Equal(t, CategoryAnswerCNAME, cls.category)
	assert.Equal(t, 1, cls.cnameHops)
}

func TestClassify_UnfinishedCNAME(t *testing.T) {
	q := classifyQuestion(t)
	ans := baseResponse(q)
	ans.Answer = []dns.RR{mustRR(t, "www.example.com. 300 IN CNAME web.elsewhere.net.")}
	cls := classify(q, ans)
	assert.Equal(t, CategoryCNAME, cls.category)
	assert.Equal(t, "web.elsewhere.net.", cls.cnameTarget)
	assert.Equal(t, 1, cls.cnameHops)
}

func TestClassify_CNAMELoopInMessage(t *testing.T) {
	q := classifyQuestion(t)
	ans := baseResponse(q)
	ans.Answer = []dns.RR{
		mustRR(t, "www.example.com. 300 IN CNAME b.example.com."),
		mustRR(t, "b.example.com. 300 IN CNAME www.example.com."),
	}
	cls := classify(q, ans)
	assert.Equal(t, CategoryCNAME, cls.category)
	assert.Greater(t, cls.cnameHops, 1, "a contained loop reports multiple hops")
}

func TestClassify_QuestionForCNAMEType(t *testing.T) {
	q, err := domain.NewQuestion("www.example.com.", dns.TypeCNAME, dns.ClassINET)
	require.NoError(t, err)
	ans := domain.NewResponse(q)
	ans.Answer = []dns.RR{mustRR(t, "www.example.com. 300 IN CNAME web.example.com.")}
	assert.Equal(t, CategoryAnswer, classify(q, ans).category)
}

func TestClassify_MalformedAnswerSections(t *testing.T) {
	q := classifyQuestion(t)

	// answer holds records unrelated to the question
	extra := baseResponse(q)
	extra.Answer = []dns.RR{mustRR(t, "unrelated.example. 300 IN A 192.0.2.9")}
	assert.Equal(t, CategoryExtraData, classify(q, extra).category)

	// chain answered plus unrelated leftovers
	mixed := baseResponse(q)
	mixed.Answer = []dns.RR{
		mustRR(t, "www.example.com. 300 IN A 192.0.2.80"),
		mustRR(t, "unrelated.example. 300 IN A 192.0.2.9"),
	}
	assert.Equal(t, CategoryExtraData, classify(q, mixed).category)

	// wrong type at the question name
	invType := baseResponse(q)
	invType.Answer = []dns.RR{mustRR(t, "www.example.com. 300 IN MX 10 mail.example.com.")}
	assert.Equal(t, CategoryInvType, classify(q, invType).category)

	// CNAME RRset with more than one record
	notSingle := baseResponse(q)
	notSingle.Answer = []dns.RR{
		mustRR(t, "www.example.com. 300 IN CNAME a.example.com."),
		mustRR(t, "www.example.com. 300 IN CNAME b.example.com."),
	}
	assert.Equal(t, CategoryNotSingle, classify(q, notSingle).category)

	// class other than the question's
	invClass := baseResponse(q)
	invClass.Answer = []dns.RR{mustRR(t, "www.example.com. 300 CH A 192.0.2.80")}
	assert.Equal(t, CategoryInvNameClass, classify(q, invClass).category)
}

func TestClassify_CaseInsensitiveOwnerMatch(t *testing.T) {
	q := classifyQuestion(t)
	ans := baseResponse(q)
	ans.Question = []dns.Question{{Name: "WWW.EXAMPLE.COM.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
	ans.Answer = []dns.RR{mustRR(t, "WwW.eXaMpLe.CoM. 300 IN A 192.0.2.80")}
	assert.Equal(t, CategoryAnswer, classify(q, ans).category)
}

func TestCategory_Strings(t *testing.T) {
	assert.Equal(t, "ANSWER", CategoryAnswer.String())
	assert.Equal(t, "REFERRAL", CategoryReferral.String())
	assert.Equal(t, "TRUNCATED", CategoryTruncated.String())
	assert.Equal(t, "UNKNOWN", Category(999).String())
}

func TestCategory_IsError(t *testing.T) {
	assert.False(t, CategoryAnswer.IsError())
	assert.False(t, CategoryReferral.IsError())
	assert.False(t, CategoryNXDomain.IsError())
	assert.True(t, CategoryTruncated.IsError())
	assert.True(t, CategoryExtraData.IsError())
}
