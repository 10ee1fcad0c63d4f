package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalDNSName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already canonical", "example.com.", "example.com."},
		{"no trailing dot", "example.com", "example.com."},
		{"uppercase", "EXAMPLE.COM", "example.com."},
		{"mixed case with dot", "ExAmPlE.CoM.", "example.com."},
		{"surrounding whitespace", "  example.com.  ", "example.com."},
		{"multiple trailing dots", "example.com...", "example.com."},
		{"root", ".", "."},
		{"empty", "", "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalDNSName(tt.input))
		})
	}
}

func TestApexDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "www.example.com.", "example.com."},
		{"deep label", "a.b.c.example.co.uk.", "example.co.uk."},
		{"already apex", "example.com", "example.com."},
		{"tld only falls back", "com.", "com."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ApexDomain(tt.input))
		})
	}
}

func TestParentZone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"host to zone", "www.example.com.", "example.com."},
		{"zone to tld", "example.com.", "com."},
		{"tld to root", "com.", "."},
		{"root stays root", ".", "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParentZone(tt.input))
		})
	}
}
