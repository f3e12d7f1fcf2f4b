package domain

import "fmt"

// RRClass represents a DNS class (usually IN for Internet).
type RRClass uint16

const (
	RRClassIN   RRClass = 1
	RRClassCH   RRClass = 3
	RRClassHS   RRClass = 4
	RRClassNONE RRClass = 254
	RRClassANY  RRClass = 255 // query only
)

var rrClassNames = map[RRClass]string{
	RRClassIN:   "IN",
	RRClassCH:   "CH",
	RRClassHS:   "HS",
	RRClassNONE: "NONE",
	RRClassANY:  "ANY",
}

// IsValid returns true if the class is one the codec accepts in a question.
func (c RRClass) IsValid() bool {
	_, ok := rrClassNames[c]
	return ok
}

func (c RRClass) String() string {
	if s, ok := rrClassNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CLASS%d", uint16(c))
}

// ParseRRClass converts a class mnemonic to an RRClass value. Returns 0 when unknown.
func ParseRRClass(s string) RRClass {
	for c, name := range rrClassNames {
		if name == s {
			return c
		}
	}
	return 0
}
