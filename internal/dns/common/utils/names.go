// Package utils holds small name helpers shared by the repositories and services.
package utils

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalDNSName lowercases and trims a name and strips trailing dots.
// Blocklist and zone keys use this form.
func CanonicalDNSName(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), ".")
}

// GetApexDomain returns the registrable domain (eTLD+1) for name, falling back
// to the canonical name when the public suffix list has no answer.
func GetApexDomain(name string) string {
	name = CanonicalDNSName(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

// Suffixes lists name and each parent, most specific first:
// "a.b.example.com" yields a.b.example.com, b.example.com, example.com, com.
func Suffixes(name string) []string {
	name = CanonicalDNSName(name)
	if name == "" {
		return nil
	}
	out := []string{name}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' && i+1 < len(name) {
			out = append(out, name[i+1:])
		}
	}
	return out
}

// ParentSuffixes lists the parents of name without name itself:
// "a.b.example.com" yields b.example.com, example.com, com. A suffix rule
// anchored at one of these covers name.
func ParentSuffixes(name string) []string {
	all := Suffixes(name)
	if len(all) < 2 {
		return nil
	}
	return all[1:]
}
