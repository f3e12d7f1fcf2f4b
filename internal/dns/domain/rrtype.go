package domain

import "fmt"

// RRType represents a DNS resource record type (e.g. A, AAAA, MX).
// See IANA DNS Parameters for assigned codes.
type RRType uint16

const (
	RRTypeA      RRType = 1
	RRTypeNS     RRType = 2
	RRTypeCNAME  RRType = 5
	RRTypeSOA    RRType = 6
	RRTypePTR    RRType = 12
	RRTypeMX     RRType = 15
	RRTypeTXT    RRType = 16
	RRTypeAAAA   RRType = 28
	RRTypeSRV    RRType = 33
	RRTypeNAPTR  RRType = 35
	RRTypeOPT    RRType = 41
	RRTypeDS     RRType = 43
	RRTypeRRSIG  RRType = 46
	RRTypeNSEC   RRType = 47
	RRTypeDNSKEY RRType = 48
	RRTypeTLSA   RRType = 52
	RRTypeSVCB   RRType = 64
	RRTypeHTTPS  RRType = 65
	RRTypeANY    RRType = 255 // query only
	RRTypeCAA    RRType = 257
)

var rrTypeNames = map[RRType]string{
	RRTypeA:      "A",
	RRTypeNS:     "NS",
	RRTypeCNAME:  "CNAME",
	RRTypeSOA:    "SOA",
	RRTypePTR:    "PTR",
	RRTypeMX:     "MX",
	RRTypeTXT:    "TXT",
	RRTypeAAAA:   "AAAA",
	RRTypeSRV:    "SRV",
	RRTypeNAPTR:  "NAPTR",
	RRTypeOPT:    "OPT",
	RRTypeDS:     "DS",
	RRTypeRRSIG:  "RRSIG",
	RRTypeNSEC:   "NSEC",
	RRTypeDNSKEY: "DNSKEY",
	RRTypeTLSA:   "TLSA",
	RRTypeSVCB:   "SVCB",
	RRTypeHTTPS:  "HTTPS",
	RRTypeANY:    "ANY",
	RRTypeCAA:    "CAA",
}

var rrTypeValues = func() map[string]RRType {
	m := make(map[string]RRType, len(rrTypeNames))
	for t, s := range rrTypeNames {
		m[s] = t
	}
	return m
}()

// IsKnown reports whether the type has a registered mnemonic. Unknown types
// are still legal on the wire and are carried through as opaque rdata.
func (t RRType) IsKnown() bool {
	_, ok := rrTypeNames[t]
	return ok
}

// String returns the mnemonic, or the RFC 3597 "TYPEnnn" form for unknown types.
func (t RRType) String() string {
	if s, ok := rrTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// RRTypeFromString converts a mnemonic to its RRType. Returns 0 when unknown.
func RRTypeFromString(s string) RRType {
	return rrTypeValues[s]
}
