package domain

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/utils"
)

// Question is the immutable (name, type, class) triple a resolution is
// keyed on. Name is held in canonical form; comparisons are therefore
// case-insensitive as required by the wire protocol.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// NewQuestion constructs a Question and validates its fields.
func NewQuestion(name string, qtype, qclass uint16) (Question, error) {
	q := Question{
		Name:  utils.CanonicalDNSName(name),
		Type:  qtype,
		Class: qclass,
	}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Validate checks whether the Question fields are structurally valid.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("question name must not be empty")
	}
	if q.Type == dns.TypeNone {
		return fmt.Errorf("question type must not be TypeNone")
	}
	if q.Class == 0 {
		return fmt.Errorf("question class must not be zero")
	}
	if _, ok := dns.IsDomainName(q.Name); !ok {
		return fmt.Errorf("invalid domain name: %q", q.Name)
	}
	return nil
}

// String renders the question the way dig prints it.
func (q Question) String() string {
	return fmt.Sprintf("%s %s %s", q.Name, dns.ClassToString[q.Class], dns.TypeToString[q.Type])
}

// CacheKey returns a cache key string derived from name, type, and class.
func (q Question) CacheKey() string {
	return GenerateCacheKey(q.Name, q.Type, q.Class)
}

// Wire converts the Question to its wire-level representation.
func (q Question) Wire() dns.Question {
	return dns.Question{Name: q.Name, Qtype: q.Type, Qclass: q.Class}
}

// Matches reports whether a wire question refers to the same triple,
// comparing names case-insensitively.
func (q Question) Matches(w dns.Question) bool {
	return utils.CanonicalDNSName(w.Name) == q.Name && w.Qtype == q.Type && w.Qclass == q.Class
}

// GenerateCacheKey builds the canonical cache key for a (name, type, class)
// triple. The same key shape is used by the message cache and RRset cache.
func GenerateCacheKey(name string, qtype, qclass uint16) string {
	return fmt.Sprintf("%s|%s|%s", utils.CanonicalDNSName(name), dns.TypeToString[qtype], dns.ClassToString[qclass])
}

// FromWire converts a wire question into a domain Question.
func FromWire(w dns.Question) Question {
	return Question{
		Name:  utils.CanonicalDNSName(w.Name),
		Type:  w.Qtype,
		Class: w.Qclass,
	}
}
