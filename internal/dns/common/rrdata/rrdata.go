// Package rrdata converts record data between zone-file presentation text and
// wire rdata for the record types served from zones and synthesized by the
// blocklist.
package rrdata

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
)

type converter struct {
	encode func(string) ([]byte, error)
	decode func([]byte) (string, error)
}

var converters = map[domain.RRType]converter{
	domain.RRTypeA:     {encodeA, decodeA},
	domain.RRTypeAAAA:  {encodeAAAA, decodeAAAA},
	domain.RRTypeNS:    {encodeName, decodeName},
	domain.RRTypeCNAME: {encodeName, decodeName},
	domain.RRTypePTR:   {encodeName, decodeName},
	domain.RRTypeMX:    {encodeMX, decodeMX},
	domain.RRTypeTXT:   {encodeTXT, decodeTXT},
	domain.RRTypeSRV:   {encodeSRV, decodeSRV},
	domain.RRTypeSOA:   {encodeSOA, decodeSOA},
	domain.RRTypeCAA:   {encodeCAA, decodeCAA},
}

// Supported reports whether text conversion exists for t.
func Supported(t domain.RRType) bool {
	_, ok := converters[t]
	return ok
}

// Encode converts presentation text for the given type into rdata.
func Encode(t domain.RRType, text string) ([]byte, error) {
	c, ok := converters[t]
	if !ok {
		return nil, fmt.Errorf("%s record encoding not supported", t)
	}
	b, err := c.encode(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	return b, nil
}

// Decode renders rdata as presentation text. Types without a converter use
// the RFC 3597 generic form.
func Decode(t domain.RRType, data []byte) (string, error) {
	c, ok := converters[t]
	if !ok {
		return fmt.Sprintf(`\# %d %s`, len(data), hex.EncodeToString(data)), nil
	}
	s, err := c.decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t, err)
	}
	return s, nil
}

func encodeA(s string) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return []byte(ip.To4()), nil
}

func decodeA(b []byte) (string, error) {
	if len(b) != net.IPv4len {
		return "", fmt.Errorf("invalid length %d", len(b))
	}
	return net.IP(b).String(), nil
}

func encodeAAAA(s string) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() != nil {
		return nil, fmt.Errorf("invalid IPv6 address %q", s)
	}
	return []byte(ip.To16()), nil
}

func decodeAAAA(b []byte) (string, error) {
	if len(b) != net.IPv6len {
		return "", fmt.Errorf("invalid length %d", len(b))
	}
	return net.IP(b).String(), nil
}

func encodeName(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty target name")
	}
	return wire.NameToWire(s)
}

func decodeName(b []byte) (string, error) {
	name, n, err := wire.NameFromWire(b)
	if err != nil {
		return "", err
	}
	if n != len(b) {
		return "", fmt.Errorf("%d trailing bytes", len(b)-n)
	}
	return name, nil
}

// "10 mail.example.com."
func encodeMX(s string) ([]byte, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected 'preference exchange', got %q", s)
	}
	pref, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid preference: %w", err)
	}
	name, err := encodeName(parts[1])
	if err != nil {
		return nil, err
	}
	return append(binary.BigEndian.AppendUint16(nil, uint16(pref)), name...), nil
}

func decodeMX(b []byte) (string, error) {
	if len(b) < 3 {
		return "", fmt.Errorf("invalid length %d", len(b))
	}
	name, err := decodeName(b[2:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %s", binary.BigEndian.Uint16(b), name), nil
}

// "priority weight port target"
func encodeSRV(s string) ([]byte, error) {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected 'priority weight port target', got %q", s)
	}
	out := make([]byte, 0, 6+len(parts[3])+2)
	for i, p := range parts[:3] {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid field %d: %w", i, err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(v))
	}
	name, err := encodeName(parts[3])
	if err != nil {
		return nil, err
	}
	return append(out, name...), nil
}

func decodeSRV(b []byte) (string, error) {
	if len(b) < 7 {
		return "", fmt.Errorf("invalid length %d", len(b))
	}
	name, err := decodeName(b[6:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d %d %s",
		binary.BigEndian.Uint16(b[0:]), binary.BigEndian.Uint16(b[2:]), binary.BigEndian.Uint16(b[4:]), name), nil
}

// "mname rname serial refresh retry expire minimum"
func encodeSOA(s string) ([]byte, error) {
	parts := strings.Fields(s)
	if len(parts) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(parts))
	}
	mname, err := encodeName(parts[0])
	if err != nil {
		return nil, fmt.Errorf("mname: %w", err)
	}
	rname, err := encodeName(parts[1])
	if err != nil {
		return nil, fmt.Errorf("rname: %w", err)
	}
	out := append(mname, rname...)
	for i, p := range parts[2:] {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+2, err)
		}
		out = binary.BigEndian.AppendUint32(out, uint32(v))
	}
	return out, nil
}

func decodeSOA(b []byte) (string, error) {
	mname, n1, err := wire.NameFromWire(b)
	if err != nil {
		return "", fmt.Errorf("mname: %w", err)
	}
	rname, n2, err := wire.NameFromWire(b[n1:])
	if err != nil {
		return "", fmt.Errorf("rname: %w", err)
	}
	rest := b[n1+n2:]
	if len(rest) != 20 {
		return "", fmt.Errorf("expected 20 bytes of counters, got %d", len(rest))
	}
	return fmt.Sprintf("%s %s %d %d %d %d %d", mname, rname,
		binary.BigEndian.Uint32(rest[0:]), binary.BigEndian.Uint32(rest[4:]), binary.BigEndian.Uint32(rest[8:]),
		binary.BigEndian.Uint32(rest[12:]), binary.BigEndian.Uint32(rest[16:])), nil
}

// TXT text is one or more character-strings separated by semicolons.
func encodeTXT(s string) ([]byte, error) {
	var out []byte
	for _, seg := range strings.Split(s, ";") {
		seg = strings.Trim(strings.TrimSpace(seg), `"`)
		if seg == "" {
			continue
		}
		if len(seg) > 255 {
			return nil, fmt.Errorf("segment longer than 255 bytes")
		}
		out = append(out, byte(len(seg)))
		out = append(out, seg...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one segment is required")
	}
	return out, nil
}

func decodeTXT(b []byte) (string, error) {
	var segs []string
	for i := 0; i < len(b); {
		l := int(b[i])
		if i+1+l > len(b) {
			return "", fmt.Errorf("segment runs past end of rdata")
		}
		segs = append(segs, string(b[i+1:i+1+l]))
		i += 1 + l
	}
	return strings.Join(segs, ";"), nil
}

// `0 issue "letsencrypt.org"`; the value is opaque and never canonicalized.
func encodeCAA(s string) ([]byte, error) {
	parts := strings.Fields(s)
	if len(parts) < 3 {
		return nil, fmt.Errorf(`expected 'flag tag "value"', got %q`, s)
	}
	flag, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid flag: %w", err)
	}
	tag := parts[1]
	if len(tag) == 0 || len(tag) > 255 {
		return nil, fmt.Errorf("invalid tag length %d", len(tag))
	}
	value := strings.Trim(strings.Join(parts[2:], " "), `"`)
	out := []byte{byte(flag), byte(len(tag))}
	out = append(out, tag...)
	return append(out, value...), nil
}

func decodeCAA(b []byte) (string, error) {
	if len(b) < 2 || len(b) < 2+int(b[1]) {
		return "", fmt.Errorf("invalid length %d", len(b))
	}
	tagEnd := 2 + int(b[1])
	return fmt.Sprintf(`%d %s "%s"`, b[0], b[2:tagEnd], b[tagEnd:]), nil
}
