package utils

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalDNSName returns a DNS name in the canonical form the resolver
// uses everywhere: lowercased, trimmed, fully qualified (single trailing
// dot). Zone cuts and cache keys are compared in this form.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name + "."
}

// ApexDomain returns the registrable (eTLD+1) form of a name, canonicalized.
// If the public suffix list cannot produce one (e.g. the name is itself a
// public suffix or the root), the canonical input is returned.
func ApexDomain(name string) string {
	cn := CanonicalDNSName(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(cn, "."))
	if err != nil {
		return cn
	}
	return apex + "."
}

// ParentZone returns the enclosing zone of a canonical name, e.g.
// "www.example.com." -> "example.com.". The root returns itself.
func ParentZone(name string) string {
	cn := CanonicalDNSName(name)
	if cn == "." {
		return "."
	}
	idx := strings.Index(cn, ".")
	if idx < 0 || idx == len(cn)-1 {
		return "."
	}
	return cn[idx+1:]
}
