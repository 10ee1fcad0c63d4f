package resolver

import (
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/utils"
	"github.com/haukened/rr-resolved/internal/dns/domain"
	"github.com/haukened/rr-resolved/internal/dns/infra/reactor"
)

// MaxCNAMEChain bounds the number of CNAME indirections followed per
// resolution. Both unreasonably long chains and loops trip it.
const MaxCNAMEChain = 16

const rootZone = "."

// runningQuery is the state record of one in-flight resolution. It lives
// entirely on the reactor goroutine: every transition (fetch completion,
// timer fire, address-store callback) is serialized there, so no field
// needs locking. It drives itself from construction to teardown; the
// facade performs no further operations on it.
type runningQuery struct {
	res     *Resolver
	handler ResolutionHandler

	// question mutates as CNAME targets are followed; answer accumulates
	// the message returned to the caller and keeps the original question
	// in its question section.
	question domain.Question
	answer   *dns.Msg

	// zone cut currently being queried (recursive mode only)
	curZone string

	// target of the outstanding fetch, for RTT attribution; nil in
	// forwarding mode
	curAddr ServerAddress
	qSentAt time.Time

	cnameCount int
	retries    int
	queriesOut int

	done       bool
	answerSent bool
	destroyed  bool

	nsasCallback    *addressCallback
	nsasCallbackOut bool

	lookupTimer         reactor.Timer
	clientTimer         reactor.Timer
	clientTimerCanceled bool
}

// addressCallback adapts the running query to the address store's callback
// contract. It is a bare capability reference: the query outlives its
// address-store callbacks by construction of the teardown protocol.
type addressCallback struct {
	rq *runningQuery
}

func (c *addressCallback) Success(addr ServerAddress) {
	rq := c.rq
	rq.nsasCallbackOut = false
	rq.res.logger.Debug(map[string]any{
		"question": rq.question.String(),
		"zone":     rq.curZone,
		"server":   addr.Addr().String(),
	}, "nameserver found, sending query")
	rq.sendTo(addr)
}

func (c *addressCallback) Unreachable() {
	rq := c.rq
	rq.nsasCallbackOut = false
	rq.res.logger.Debug(map[string]any{
		"question": rq.question.String(),
		"zone":     rq.curZone,
	}, "nameservers unreachable")
	rq.makeServfail()
	rq.stop(!rq.answerSent)
}

func newRunningQuery(res *Resolver, q domain.Question, answer *dns.Msg, handler ResolutionHandler) *runningQuery {
	rq := &runningQuery{
		res:      res,
		handler:  handler,
		question: q,
		answer:   answer,
		retries:  res.retries,
	}
	rq.nsasCallback = &addressCallback{rq: rq}
	return rq
}

// start arms the lookup and client deadlines and performs the first cache
// probe. Must run on the reactor goroutine.
func (rq *runningQuery) start() {
	rq.res.active.Add(1)

	// hard deadline: terminate the query
	rq.lookupTimer = rq.res.reactor.NewTimer(rq.res.lookupTimeout, func(bool) {
		rq.stop(false)
	})
	// soft deadline: deliver some answer to the caller, keep iterating
	rq.clientTimer = rq.res.reactor.NewTimer(rq.res.clientTimeout, rq.onClientTimeout)

	rq.doLookup()
}

// doLookup probes the cache for the current question; a miss starts the
// iteration over at the root.
func (rq *runningQuery) doLookup() {
	if msg, ok := rq.res.cache.LookupMessage(rq.question); ok {
		rq.res.logger.Debug(map[string]any{"question": rq.question.String()}, "message found in cache")
		cached := domain.NewResponse(rq.question)
		domain.CopyResponse(msg, cached)
		if rq.handleRecursiveAnswer(cached) {
			rq.stop(true)
		}
		return
	}
	rq.curZone = rootZone
	rq.send()
}

// send chooses the next target. Forwarding mode picks a random upstream;
// recursive mode asks the address store for the current zone cut.
func (rq *runningQuery) send() {
	if len(rq.res.upstream) > 0 {
		target := rq.res.upstream[rand.IntN(len(rq.res.upstream))]
		rq.res.logger.Debug(map[string]any{
			"question": rq.question.String(),
			"server":   target.String(),
		}, "sending upstream query")
		rq.curAddr = nil
		rq.dispatchFetch(target)
		return
	}

	if rq.nsasCallbackOut {
		// invariant: one address lookup outstanding per query
		rq.res.logger.Error(map[string]any{
			"question": rq.question.String(),
			"zone":     rq.curZone,
		}, "address lookup already outstanding, dropping send")
		return
	}
	rq.nsasCallbackOut = true
	rq.res.addresses.Lookup(rq.curZone, rq.question.Class, rq.nsasCallback)
}

func (rq *runningQuery) sendTo(addr ServerAddress) {
	rq.curAddr = addr
	rq.dispatchFetch(addr.Addr())
}

func (rq *runningQuery) dispatchFetch(target netip.AddrPort) {
	rq.qSentAt = rq.res.clock.Now()
	rq.queriesOut++
	rq.res.fetcher.Fetch(rq.question, target, rq.res.queryTimeout, rq.onFetchDone)
}

// onFetchDone handles the single outcome of a dispatched fetch: reply,
// timeout, or network error. Timeouts and errors share the retry budget.
func (rq *runningQuery) onFetchDone(res FetchResult) {
	rq.queriesOut--

	switch {
	case !rq.done && res.Received():
		rq.recordRTT()
		if rq.recursiveMode() && res.Msg.Rcode == dns.RcodeSuccess {
			rq.done = rq.handleRecursiveAnswer(res.Msg)
		} else {
			// forwarding mode, or a non-NOERROR reply in recursive mode:
			// the reply is copied through unclassified, whatever its rcode
			domain.CopyResponse(res.Msg, rq.answer)
			rq.done = true
		}
		if rq.done {
			rq.stop(true)
		}

	case !rq.done && rq.retries > 0:
		rq.retries--
		rq.res.logger.Debug(map[string]any{
			"question": rq.question.String(),
			"retries":  rq.retries,
		}, "fetch timed out, resending query")
		if rq.curAddr != nil {
			rq.curAddr.MarkUnreachable()
		}
		rq.send()

	default:
		// out of retries, or a late event after the lookup deadline; the
		// latter only continues the deferred teardown
		if rq.curAddr != nil && !res.Received() {
			rq.curAddr.MarkUnreachable()
		}
		if !rq.done {
			rq.res.logger.Debug(map[string]any{"question": rq.question.String()}, "fetch timed out, giving up")
		}
		if !rq.answerSent {
			rq.makeServfail()
		}
		rq.stop(!rq.answerSent)
	}
}

func (rq *runningQuery) recordRTT() {
	if rq.curAddr == nil {
		return
	}
	rtt := rq.res.clock.Now().Sub(rq.qSentAt)
	if rtt < time.Millisecond {
		rtt = time.Millisecond
	}
	rq.curAddr.UpdateRTT(rtt)
}

// handleRecursiveAnswer classifies a received message and either finishes
// the resolution or advances the iteration (CNAME follow, referral
// descent). Reports true when the resolution is done.
func (rq *runningQuery) handleRecursiveAnswer(incoming *dns.Msg) bool {
	cls := classify(rq.question, incoming)
	rq.res.logger.Debug(map[string]any{
		"question": rq.question.String(),
		"category": cls.category.String(),
	}, "classified response")

	switch cls.category {
	case CategoryAnswer, CategoryAnswerCNAME:
		rq.res.cache.Update(incoming)
		rq.cnameCount += cls.cnameHops
		domain.CopyResponse(incoming, rq.answer)
		return true

	case CategoryCNAME:
		rq.res.cache.Update(incoming)
		rq.cnameCount += cls.cnameHops
		if rq.cnameCount >= MaxCNAMEChain {
			rq.res.logger.Warn(map[string]any{
				"question": rq.question.String(),
				"count":    rq.cnameCount,
			}, "cname chain too long")
			rq.makeServfail()
			return true
		}
		domain.AppendAnswerSection(rq.answer, incoming)
		next, err := domain.NewQuestion(cls.cnameTarget, rq.question.Type, rq.question.Class)
		if err != nil {
			rq.makeServfail()
			return true
		}
		rq.question = next
		rq.res.logger.Debug(map[string]any{"question": rq.question.String()}, "following cname chain")
		rq.doLookup()
		return false

	case CategoryNXDomain, CategoryNXRRset:
		// a negative answer is still an answer; the transport worked
		domain.CopyResponse(incoming, rq.answer)
		return true

	case CategoryReferral:
		rq.res.cache.Update(incoming)
		zone, ok := referralZone(incoming)
		if !ok {
			// no NS RRset in the referral; answer with the delegation as-is
			domain.CopyResponse(incoming, rq.answer)
			return true
		}
		rq.curZone = zone
		rq.res.addresses.Seed(zone, harvestGlue(incoming, zone))
		rq.res.logger.Debug(map[string]any{
			"question": rq.question.String(),
			"zone":     zone,
		}, "referred to zone")
		// send, not doLookup: had the final answer been cached we would
		// not have seen this referral
		rq.send()
		return false

	default:
		rq.res.logger.Debug(map[string]any{
			"question": rq.question.String(),
			"category": cls.category.String(),
		}, "error in response, returning servfail")
		rq.makeServfail()
		return true
	}
}

// referralZone returns the owner of the first NS RRset in the authority
// section.
func referralZone(msg *dns.Msg) (string, bool) {
	for _, rr := range msg.Ns {
		if rr.Header().Rrtype == dns.TypeNS {
			return utils.CanonicalDNSName(rr.Header().Name), true
		}
	}
	return "", false
}

// harvestGlue collects additional-section addresses for the delegated
// zone's nameservers so the address store can serve the next hop.
func harvestGlue(msg *dns.Msg, zone string) []netip.AddrPort {
	targets := make(map[string]bool)
	for _, rr := range msg.Ns {
		ns, ok := rr.(*dns.NS)
		if !ok || utils.CanonicalDNSName(ns.Hdr.Name) != zone {
			continue
		}
		targets[utils.CanonicalDNSName(ns.Ns)] = true
	}

	var addrs []netip.AddrPort
	for _, rr := range msg.Extra {
		var ip netip.Addr
		var owner string
		switch g := rr.(type) {
		case *dns.A:
			owner = utils.CanonicalDNSName(g.Hdr.Name)
			ip, _ = netip.AddrFromSlice(g.A.To4())
		case *dns.AAAA:
			owner = utils.CanonicalDNSName(g.Hdr.Name)
			ip, _ = netip.AddrFromSlice(g.AAAA)
		default:
			continue
		}
		if targets[owner] && ip.IsValid() {
			addrs = append(addrs, netip.AddrPortFrom(ip, defaultDNSPort))
		}
	}
	return addrs
}

// onClientTimeout delivers a provisional SERVFAIL at the soft deadline but
// lets the iteration continue so real answers still reach the cache. When
// re-entered through cancellation it resumes the teardown sequence instead.
func (rq *runningQuery) onClientTimeout(bool) {
	if !rq.answerSent {
		rq.answerSent = true
		provisional := rq.answer.Copy()
		domain.MakeErrorResponse(provisional, dns.RcodeServerFailure)
		rq.res.logger.Debug(map[string]any{
			"question": rq.question.String(),
		}, "client deadline reached, delivering provisional servfail")
		rq.handler.Success(provisional)
	}
	if rq.clientTimerCanceled {
		rq.stop(false)
	}
}

// stop is the single teardown entry point and may be called multiple
// times. Cancelled timers re-enter it when their cancellation events fire,
// and a fetch completing after the lookup deadline re-enters it as well;
// the query is destroyed only when no external reference remains.
func (rq *runningQuery) stop(resume bool) {
	rq.done = true
	if resume {
		rq.res.cache.Update(rq.answer)
	}
	if !rq.answerSent {
		rq.answerSent = true
		if resume {
			rq.handler.Success(rq.answer)
		} else {
			rq.handler.Failure()
		}
	}
	if rq.lookupTimer.Cancel() {
		return
	}
	if rq.clientTimer.Cancel() {
		rq.clientTimerCanceled = true
		return
	}
	if rq.queriesOut > 0 {
		return
	}
	if rq.nsasCallbackOut {
		rq.res.addresses.Cancel(rq.curZone, rq.question.Class, rq.nsasCallback)
		rq.nsasCallbackOut = false
	}
	rq.destroy()
}

func (rq *runningQuery) destroy() {
	if rq.destroyed {
		return
	}
	rq.destroyed = true
	rq.res.active.Add(-1)
	rq.res.logger.Debug(map[string]any{"question": rq.question.String()}, "resolution stopped")
}

func (rq *runningQuery) makeServfail() {
	domain.MakeErrorResponse(rq.answer, dns.RcodeServerFailure)
}

func (rq *runningQuery) recursiveMode() bool {
	return len(rq.res.upstream) == 0
}
