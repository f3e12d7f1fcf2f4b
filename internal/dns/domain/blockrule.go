package domain

import (
	"fmt"
	"strings"
	"time"
)

// BlockRuleKind defines how a rule matches domains.
//
// exact  - matches the name only
// suffix - matches any subdomain of the name, not the name itself
type BlockRuleKind uint8

const (
	BlockRuleExact BlockRuleKind = iota
	BlockRuleSuffix
)

func (k BlockRuleKind) String() string {
	switch k {
	case BlockRuleExact:
		return "exact"
	case BlockRuleSuffix:
		return "suffix"
	default:
		return fmt.Sprintf("BlockRuleKind(%d)", k)
	}
}

// BlockRule is a single blocking rule sourced from a list file or the HTTP API.
// Name is canonical: lower case, no trailing dot.
type BlockRule struct {
	Name    string
	Kind    BlockRuleKind
	Source  string
	AddedAt time.Time
}

// NewBlockRule constructs a BlockRule and validates its fields.
func NewBlockRule(name string, kind BlockRuleKind, source string, addedAt time.Time) (BlockRule, error) {
	r := BlockRule{
		Name:    strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "."),
		Kind:    kind,
		Source:  strings.TrimSpace(source),
		AddedAt: addedAt,
	}
	if err := r.Validate(); err != nil {
		return BlockRule{}, err
	}
	return r, nil
}

// Validate checks the BlockRule for required fields and supported values.
func (r BlockRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.Source == "" {
		return fmt.Errorf("rule source must not be empty")
	}
	if r.AddedAt.IsZero() {
		return fmt.Errorf("rule addedAt must be set")
	}
	if r.Kind != BlockRuleExact && r.Kind != BlockRuleSuffix {
		return fmt.Errorf("unsupported BlockRuleKind: %d", r.Kind)
	}
	return nil
}

// IsExact reports whether the rule matches its name only.
func (r BlockRule) IsExact() bool { return r.Kind == BlockRuleExact }

// IsSuffix reports whether the rule matches subdomains of its name.
func (r BlockRule) IsSuffix() bool { return r.Kind == BlockRuleSuffix }

// Pattern renders the rule as it is written in list files: "*.name" for
// suffix rules.
func (r BlockRule) Pattern() string {
	if r.Kind == BlockRuleSuffix {
		return "*." + r.Name
	}
	return r.Name
}
