// Package nsas implements the nameserver address store: it maps zone names
// to concrete server addresses, remembers smoothed round-trip times, and
// answers lookups asynchronously on the resolver's dispatch loop.
package nsas

import (
	"net/netip"
	"sync"
	"time"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/common/utils"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

// Dispatcher posts work onto the resolver's serialized event loop.
// Callbacks always fire there, never on the caller's goroutine.
type Dispatcher interface {
	Post(fn func())
}

const (
	// rttWeight is the weight of a new sample in the smoothed RTT.
	rttWeight = 0.3
	// initialRTT seeds addresses that have never been measured.
	initialRTT = 400 * time.Millisecond
)

// Address is one nameserver endpoint with RTT memory. The resolver engine
// reports the outcome of every fetch against it.
type Address struct {
	mu          sync.Mutex
	addr        netip.AddrPort
	srtt        time.Duration
	measured    bool
	unreachable bool
}

func newAddress(ap netip.AddrPort) *Address {
	return &Address{addr: ap, srtt: initialRTT}
}

// Addr returns the endpoint.
func (a *Address) Addr() netip.AddrPort {
	return a.addr
}

// UpdateRTT folds a new sample into the smoothed RTT and clears the
// unreachable mark.
func (a *Address) UpdateRTT(rtt time.Duration) {
	if rtt < time.Millisecond {
		rtt = time.Millisecond
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.measured {
		a.srtt = rtt
		a.measured = true
	} else {
		a.srtt = time.Duration(float64(a.srtt)*(1-rttWeight) + float64(rtt)*rttWeight)
	}
	a.unreachable = false
}

// MarkUnreachable records that the endpoint failed to answer.
func (a *Address) MarkUnreachable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unreachable = true
}

// RTT returns the current smoothed RTT.
func (a *Address) RTT() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.srtt
}

// Unreachable reports whether the endpoint is currently marked
// unreachable.
func (a *Address) Unreachable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unreachable
}

// score orders candidate addresses: reachable before unreachable, then by
// smoothed RTT.
func (a *Address) score() (bool, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unreachable, a.srtt
}

// Store maps zone names to their known addresses. Lookups resolve
// asynchronously via the dispatcher; at most one lookup is outstanding per
// running query, enforced by the engine.
type Store struct {
	mu       sync.Mutex
	zones    map[string][]*Address
	pending  map[resolver.AddressRequestCallback]struct{}
	dispatch Dispatcher
	logger   log.Logger
}

// New constructs an empty Store.
func New(dispatch Dispatcher, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Store{
		zones:    make(map[string][]*Address),
		pending:  make(map[resolver.AddressRequestCallback]struct{}),
		dispatch: dispatch,
		logger:   logger,
	}
}

// Seed registers addresses for a zone, ignoring duplicates. The resolver
// seeds the root at startup and referral glue as it descends.
func (s *Store) Seed(zone string, addrs []netip.AddrPort) {
	if len(addrs) == 0 {
		return
	}
	zone = utils.CanonicalDNSName(zone)
	s.mu.Lock()
	defer s.mu.Unlock()
	known := s.zones[zone]
	for _, ap := range addrs {
		dup := false
		for _, a := range known {
			if a.addr == ap {
				dup = true
				break
			}
		}
		if !dup {
			known = append(known, newAddress(ap))
		}
	}
	s.zones[zone] = known
}

// Lookup asynchronously resolves the zone to its best known address. The
// callback fires exactly once on the dispatch loop with either Success or
// Unreachable, unless cancelled first.
func (s *Store) Lookup(zone string, class uint16, cb resolver.AddressRequestCallback) {
	zone = utils.CanonicalDNSName(zone)
	s.mu.Lock()
	s.pending[cb] = struct{}{}
	s.mu.Unlock()

	s.dispatch.Post(func() {
		s.mu.Lock()
		_, live := s.pending[cb]
		delete(s.pending, cb)
		s.mu.Unlock()
		if !live {
			return
		}
		addr := s.pick(zone)
		if addr == nil {
			s.logger.Debug(map[string]any{"zone": zone}, "no addresses known for zone")
			cb.Unreachable()
			return
		}
		cb.Success(addr)
	})
}

// Cancel withdraws a pending lookup. After it returns, the callback will
// not fire.
func (s *Store) Cancel(zone string, class uint16, cb resolver.AddressRequestCallback) {
	s.mu.Lock()
	delete(s.pending, cb)
	s.mu.Unlock()
}

// pick returns the zone's best address: reachable before unreachable, then
// lowest smoothed RTT. An address marked unreachable is still returned
// when nothing better exists, so a retry budget can be spent on it.
func (s *Store) pick(zone string) *Address {
	s.mu.Lock()
	candidates := s.zones[zone]
	s.mu.Unlock()

	var best *Address
	var bestUnreachable bool
	var bestRTT time.Duration
	for _, a := range candidates {
		unreachable, rtt := a.score()
		if best == nil ||
			(bestUnreachable && !unreachable) ||
			(bestUnreachable == unreachable && rtt < bestRTT) {
			best, bestUnreachable, bestRTT = a, unreachable, rtt
		}
	}
	return best
}

// KnownZones reports how many zones currently have addresses.
func (s *Store) KnownZones() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.zones)
}

var _ resolver.AddressStore = (*Store)(nil)
var _ resolver.ServerAddress = (*Address)(nil)
