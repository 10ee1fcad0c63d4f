package resolver

import (
	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/utils"
	"github.com/haukened/rr-resolved/internal/dns/domain"
)

// Category is the verdict of inspecting a received message against the
// current question. Exactly one category applies per message.
type Category int

const (
	// CategoryAnswer is a direct answer to the question.
	CategoryAnswer Category = iota
	// CategoryAnswerCNAME is an answer reached through a CNAME chain that
	// completes within the same message.
	CategoryAnswerCNAME
	// CategoryCNAME is an unfinished CNAME chain; resolution must continue
	// at the chain's target.
	CategoryCNAME
	// CategoryNXDomain is an authoritative name error.
	CategoryNXDomain
	// CategoryNXRRset is a no-data answer: the name exists but not with the
	// requested type.
	CategoryNXRRset
	// CategoryReferral delegates to a subzone's nameservers.
	CategoryReferral

	// Error categories. The engine surfaces all of these as SERVFAIL.
	CategoryEmpty
	CategoryExtraData
	CategoryInvNameClass
	CategoryInvType
	CategoryMismatchedQuestion
	CategoryMultiClass
	CategoryNotOneQuestion
	CategoryNotResponse
	CategoryNotSingle
	CategoryOpcode
	CategoryRcode
	CategoryTruncated
)

var categoryNames = map[Category]string{
	CategoryAnswer:             "ANSWER",
	CategoryAnswerCNAME:        "ANSWERCNAME",
	CategoryCNAME:              "CNAME",
	CategoryNXDomain:           "NXDOMAIN",
	CategoryNXRRset:            "NXRRSET",
	CategoryReferral:           "REFERRAL",
	CategoryEmpty:              "EMPTY",
	CategoryExtraData:          "EXTRADATA",
	CategoryInvNameClass:       "INVNAMCLASS",
	CategoryInvType:            "INVTYPE",
	CategoryMismatchedQuestion: "MISMATQUEST",
	CategoryMultiClass:         "MULTICLASS",
	CategoryNotOneQuestion:     "NOTONEQUEST",
	CategoryNotResponse:        "NOTRESPONSE",
	CategoryNotSingle:          "NOTSINGLE",
	CategoryOpcode:             "OPCODE",
	CategoryRcode:              "RCODE",
	CategoryTruncated:          "TRUNCATED",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsError reports whether the category is one of the malformedness verdicts.
func (c Category) IsError() bool {
	switch c {
	case CategoryAnswer, CategoryAnswerCNAME, CategoryCNAME,
		CategoryNXDomain, CategoryNXRRset, CategoryReferral:
		return false
	}
	return true
}

// classification carries the category plus chain information: the target of
// an unfinished CNAME chain and the number of CNAME hops walked inside this
// message.
type classification struct {
	category    Category
	cnameTarget string
	cnameHops   int
}

// classify inspects a message against the question per the iteration rules:
// header sanity first, then rcode, then the shape of the answer section.
func classify(q domain.Question, msg *dns.Msg) classification {
	if !msg.Response {
		return classification{category: CategoryNotResponse}
	}
	if msg.Opcode != dns.OpcodeQuery {
		return classification{category: CategoryOpcode}
	}
	if len(msg.Question) != 1 {
		return classification{category: CategoryNotOneQuestion}
	}
	if !q.Matches(msg.Question[0]) {
		return classification{category: CategoryMismatchedQuestion}
	}
	if msg.Truncated {
		return classification{category: CategoryTruncated}
	}
	switch msg.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return classification{category: CategoryNXDomain}
	default:
		return classification{category: CategoryRcode}
	}

	order, groups := domain.GroupRRsets(msg.Answer)
	if len(order) == 0 {
		for _, rr := range msg.Ns {
			if rr.Header().Rrtype == dns.TypeNS {
				return classification{category: CategoryReferral}
			}
		}
		if len(msg.Ns) == 0 && len(msg.Extra) == 0 {
			return classification{category: CategoryEmpty}
		}
		return classification{category: CategoryNXRRset}
	}

	classes := make(map[uint16]bool)
	for _, k := range order {
		classes[k.Class] = true
	}
	if len(classes) > 1 {
		return classification{category: CategoryMultiClass}
	}
	if !classes[q.Class] {
		return classification{category: CategoryInvNameClass}
	}

	return walkAnswerChain(q, order, groups)
}

// walkAnswerChain follows CNAME indirections through the answer section
// starting at the question name and decides between ANSWER, ANSWERCNAME,
// CNAME, and the malformedness verdicts.
func walkAnswerChain(q domain.Question, order []domain.RRsetKey, groups map[domain.RRsetKey][]dns.RR) classification {
	current := q.Name
	hops := 0
	used := make(map[domain.RRsetKey]bool)

	// The chain cannot be longer than the number of RRsets present; going
	// past that means the message contains a CNAME loop.
	for i := 0; i <= len(order); i++ {
		wantKey := domain.RRsetKey{Name: current, Type: q.Type, Class: q.Class}
		if _, ok := groups[wantKey]; ok {
			used[wantKey] = true
			if leftover(order, used) {
				return classification{category: CategoryExtraData}
			}
			if hops > 0 {
				return classification{category: CategoryAnswerCNAME, cnameHops: hops}
			}
			return classification{category: CategoryAnswer}
		}

		cnameKey := domain.RRsetKey{Name: current, Type: dns.TypeCNAME, Class: q.Class}
		if rrs, ok := groups[cnameKey]; ok {
			if len(rrs) > 1 {
				return classification{category: CategoryNotSingle}
			}
			cname, ok := rrs[0].(*dns.CNAME)
			if !ok {
				return classification{category: CategoryInvType}
			}
			used[cnameKey] = true
			hops++
			current = utils.CanonicalDNSName(cname.Target)
			continue
		}

		// Chain dead-ends here. If the owner holds records of some other
		// type the answer is invalid; if the owner is absent entirely the
		// chain leaves this message (unfinished CNAME) unless unrelated
		// records remain.
		if hasOwner(order, current) {
			return classification{category: CategoryInvType}
		}
		if hops == 0 || leftover(order, used) {
			return classification{category: CategoryExtraData}
		}
		return classification{category: CategoryCNAME, cnameTarget: current, cnameHops: hops}
	}

	// CNAME loop contained in a single message; report the chain as
	// unfinished and let the chain-length cap terminate the resolution.
	return classification{category: CategoryCNAME, cnameTarget: current, cnameHops: hops}
}

func leftover(order []domain.RRsetKey, used map[domain.RRsetKey]bool) bool {
	for _, k := range order {
		if !used[k] {
			return true
		}
	}
	return false
}

func hasOwner(order []domain.RRsetKey, name string) bool {
	for _, k := range order {
		if k.Name == name {
			return true
		}
	}
	return false
}
