package domain

import (
	"fmt"
	"strings"
)

// Question is one entry of the question section. Name is a fully qualified
// presentation-form name such as "www.example.com." ("." for the root).
type Question struct {
	Name  string
	Type  RRType
	Class RRClass
}

// NewQuestion constructs a Question, qualifying the name, and validates it.
func NewQuestion(name string, rrtype RRType, class RRClass) (Question, error) {
	q := Question{
		Name:  Fqdn(name),
		Type:  rrtype,
		Class: class,
	}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Validate checks whether the Question fields are usable for resolution.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("query name must not be empty")
	}
	if q.Type == 0 {
		return fmt.Errorf("query type must not be zero")
	}
	if !q.Class.IsValid() {
		return fmt.Errorf("unsupported RRClass: %d", q.Class)
	}
	return nil
}

// CacheKey returns a cache key derived from the question's name, type, and class.
func (q Question) CacheKey() string {
	return GenerateCacheKey(q.Name, q.Type, q.Class)
}

func (q Question) String() string {
	return q.Name + " " + q.Class.String() + " " + q.Type.String()
}

// Fqdn appends the root label when missing. The empty string becomes ".".
func Fqdn(name string) string {
	if name == "" {
		return "."
	}
	if IsFqdn(name) {
		return name
	}
	return name + "."
}

// IsFqdn reports whether name ends in an unescaped dot.
func IsFqdn(name string) bool {
	if !strings.HasSuffix(name, ".") {
		return false
	}
	slashes := 0
	for i := len(name) - 2; i >= 0 && name[i] == '\\'; i-- {
		slashes++
	}
	return slashes%2 == 0
}

// GenerateCacheKey returns a consistent key for a DNS name, type and class.
// Names compare case-insensitively, so the key is built from the lowered name.
func GenerateCacheKey(name string, t RRType, c RRClass) string {
	return strings.ToLower(Fqdn(name)) + "|" + t.String() + "|" + c.String()
}
