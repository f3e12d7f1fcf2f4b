// Package zone provides functions for loading and parsing DNS zone files in various formats.
// It supports loading zones from YAML, JSON, and TOML files, and converting them into authoritative DNS records.
//
// A zone file names its root and maps owner labels to record types:
//
//	zone_root: example.com
//	ttl: 300
//	"@":
//	  NS: ns1.example.com.
//	www:
//	  A: ["192.0.2.10", "192.0.2.11"]
package zone

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/rr-dnsctl/internal/dns/common/rrdata"
	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

const (
	keyZoneRoot = "zone_root"
	keyTTL      = "ttl"
)

// LoadZoneDirectory walks the given directory, loading all supported zone files (YAML, JSON, TOML)
// and returning a map of canonical zone roots to their records. Files sharing a root are merged.
// Returns an error if any file fails to parse.
func LoadZoneDirectory(dir string, defaultTTL time.Duration) (map[string][]domain.ResourceRecord, error) {
	zones := make(map[string][]domain.ResourceRecord)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		zoneRoot, zoneRecords, err := loadZoneFileWithRoot(path, defaultTTL)
		if err != nil {
			return fmt.Errorf("error parsing zone file %s: %w", path, err)
		}
		if zoneRoot != "" && len(zoneRecords) > 0 {
			zones[zoneRoot] = append(zones[zoneRoot], zoneRecords...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// expandName returns the owner name for a label, expanding '@' to the root,
// and appending the root if the label is not already absolute.
func expandName(label, root string) string {
	if label == "@" {
		return root
	}
	if strings.HasSuffix(label, ".") {
		return label
	}
	return label + "." + root
}

// toStringValues converts a raw koanf-parsed value (string or []any of strings) into a slice of
// non-empty strings, skipping empty or non-string elements.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// buildResourceRecord creates one record per value for a given owner and RR type mnemonic.
func buildResourceRecord(owner string, rrType string, values []string, ttl time.Duration) ([]domain.ResourceRecord, error) {
	rType := domain.RRTypeFromString(strings.ToUpper(rrType))
	if rType == 0 {
		return nil, fmt.Errorf("unknown record type %q", rrType)
	}
	var records []domain.ResourceRecord
	for _, s := range values {
		data, err := rrdata.Encode(rType, s)
		if err != nil {
			return nil, err
		}
		rr, err := domain.NewResourceRecord(owner, rType, domain.RRClassIN, uint32(ttl/time.Second), data)
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
	}
	return records, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return nil
	}
}

// loadZoneFileWithRoot loads and parses a single zone file, returning both the
// canonical zone root and its records. Unsupported extensions yield nothing.
func loadZoneFileWithRoot(path string, defaultTTL time.Duration) (string, []domain.ResourceRecord, error) {
	parser := parserFor(path)
	if parser == nil {
		return "", nil, nil
	}

	// "::" keeps dotted owner labels such as "mail.eu" as a single key.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return "", nil, fmt.Errorf("failed to load zone file %s: %w", path, err)
	}

	root := utils.CanonicalDNSName(k.String(keyZoneRoot))
	if root == "" {
		return "", nil, fmt.Errorf("zone file %s missing '%s'", path, keyZoneRoot)
	}

	ttl := defaultTTL
	if k.Exists(keyTTL) {
		secs := k.Int64(keyTTL)
		if secs < 0 {
			return "", nil, fmt.Errorf("zone file %s: negative ttl", path)
		}
		ttl = time.Duration(secs) * time.Second
	}

	var records []domain.ResourceRecord
	for name, raw := range k.Raw() {
		if name == keyZoneRoot || name == keyTTL {
			continue
		}
		rawMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		owner := domain.Fqdn(utils.CanonicalDNSName(expandName(name, root)))
		if !inZone(owner, root) {
			return "", nil, fmt.Errorf("zone file %s: %s is outside zone %s", path, owner, root)
		}
		for rrType, val := range rawMap {
			values := toStringValues(val)
			if len(values) == 0 {
				continue
			}
			recs, err := buildResourceRecord(owner, rrType, values, ttl)
			if err != nil {
				return "", nil, fmt.Errorf("invalid record in %s: %w", path, err)
			}
			records = append(records, recs...)
		}
	}
	return root, records, nil
}

// loadZoneFile loads and parses a single zone file at the given path, using the appropriate parser
// for the file extension (YAML, JSON, TOML).
func loadZoneFile(path string, defaultTTL time.Duration) ([]domain.ResourceRecord, error) {
	_, records, err := loadZoneFileWithRoot(path, defaultTTL)
	return records, err
}

func inZone(owner, root string) bool {
	cn := utils.CanonicalDNSName(owner)
	return cn == root || strings.HasSuffix(cn, "."+root)
}
