package wire

import (
	"strings"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

const (
	// MaxLabelLength is the longest label RFC 1035 allows.
	MaxLabelLength = 63
	// MaxNameLength bounds the wire form of a name, length octets included.
	MaxNameLength = 255
	// MaxPointerHops bounds how many compression pointers one name may follow.
	MaxPointerHops = 128

	pointerMask   = 0xC0
	maxPointerOff = 0x3FFF
)

// readName reads the (possibly compressed) name starting at off. It returns the
// name in uncompressed wire form and the offset just past the name as it
// appears at off. Every pointer must target an offset strictly before itself,
// and at most MaxPointerHops pointers are followed.
func readName(msg []byte, off int) ([]byte, int, error) {
	var (
		out  = make([]byte, 0, 32)
		pos  = off
		next = -1
		hops = 0
	)
	for {
		if pos >= len(msg) {
			return nil, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: pos, Detail: "name runs past end of message"}
		}
		c := int(msg[pos])
		switch c & pointerMask {
		case 0x00:
			if c == 0 {
				out = append(out, 0)
				if next < 0 {
					next = pos + 1
				}
				return out, next, nil
			}
			if pos+1+c > len(msg) {
				return nil, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: pos, Detail: "label runs past end of message"}
			}
			// one more byte is reserved for the root label
			if len(out)+1+c+1 > MaxNameLength {
				return nil, 0, &domain.DecodeError{Kind: domain.DecodeMalformedName, Offset: pos, Detail: "name exceeds 255 octets"}
			}
			out = append(out, msg[pos:pos+1+c]...)
			pos += 1 + c
		case pointerMask:
			if pos+1 >= len(msg) {
				return nil, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: pos, Detail: "pointer runs past end of message"}
			}
			target := (c&^pointerMask)<<8 | int(msg[pos+1])
			if target >= pos {
				return nil, 0, &domain.DecodeError{Kind: domain.DecodeMalformedName, Offset: pos, Detail: "compression pointer does not point backwards"}
			}
			hops++
			if hops > MaxPointerHops {
				return nil, 0, &domain.DecodeError{Kind: domain.DecodeMalformedName, Offset: pos, Detail: "too many compression pointers"}
			}
			if next < 0 {
				next = pos + 2
			}
			pos = target
		default:
			return nil, 0, &domain.DecodeError{Kind: domain.DecodeMalformedName, Offset: pos, Detail: "reserved label type"}
		}
	}
}

// wireToPresentation renders an uncompressed wire name as a fully qualified
// presentation string. Dots and backslashes inside labels are escaped, as are
// bytes outside printable ASCII.
func wireToPresentation(name []byte) string {
	if len(name) <= 1 {
		return "."
	}
	var sb strings.Builder
	sb.Grow(len(name) + 4)
	for i := 0; i < len(name) && name[i] != 0; {
		l := int(name[i])
		for _, b := range name[i+1 : i+1+l] {
			switch {
			case b == '.' || b == '\\':
				sb.WriteByte('\\')
				sb.WriteByte(b)
			case b < 0x21 || b > 0x7E:
				sb.WriteByte('\\')
				sb.WriteByte('0' + b/100)
				sb.WriteByte('0' + b/10%10)
				sb.WriteByte('0' + b%10)
			default:
				sb.WriteByte(b)
			}
		}
		sb.WriteByte('.')
		i += 1 + l
	}
	return sb.String()
}

// parseLabels splits a presentation name into raw labels, resolving escapes.
// A trailing dot is optional; "." and "" are the root.
func parseLabels(name string) ([][]byte, error) {
	if name == "" || name == "." {
		return nil, nil
	}
	var (
		labels [][]byte
		cur    = make([]byte, 0, 16)
		total  = 1
	)
	flush := func() error {
		if len(cur) == 0 {
			return &domain.EncodeError{Field: "name", Detail: "empty label in " + name}
		}
		if len(cur) > MaxLabelLength {
			return &domain.EncodeError{Field: "name", Detail: "label longer than 63 octets in " + name}
		}
		total += 1 + len(cur)
		if total > MaxNameLength {
			return &domain.EncodeError{Field: "name", Detail: "name longer than 255 octets"}
		}
		labels = append(labels, cur)
		cur = make([]byte, 0, 16)
		return nil
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '\\':
			if i+3 < len(name) && isDigit(name[i+1]) && isDigit(name[i+2]) && isDigit(name[i+3]) {
				v := int(name[i+1]-'0')*100 + int(name[i+2]-'0')*10 + int(name[i+3]-'0')
				if v > 255 {
					return nil, &domain.EncodeError{Field: "name", Detail: "escape out of range in " + name}
				}
				cur = append(cur, byte(v))
				i += 3
				continue
			}
			if i+1 >= len(name) {
				return nil, &domain.EncodeError{Field: "name", Detail: "dangling escape in " + name}
			}
			cur = append(cur, name[i+1])
			i++
		case '.':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur = append(cur, c)
		}
	}
	if len(cur) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return labels, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// NameToWire encodes a presentation name without compression.
func NameToWire(name string) ([]byte, error) {
	labels, err := parseLabels(name)
	if err != nil {
		return nil, err
	}
	return appendLabels(nil, labels), nil
}

func appendLabels(dst []byte, labels [][]byte) []byte {
	for _, l := range labels {
		dst = append(dst, byte(len(l)))
		dst = append(dst, l...)
	}
	return append(dst, 0)
}

// suffixKey identifies labels for compression lookups. Matching is exact so
// a decoded name keeps the case it was encoded with.
func suffixKey(labels [][]byte) string {
	return string(appendLabels(nil, labels))
}

// NameFromWire decodes the name at the start of b and returns it in
// presentation form with the number of bytes consumed.
func NameFromWire(b []byte) (string, int, error) {
	n, next, err := readName(b, 0)
	if err != nil {
		return "", 0, err
	}
	return wireToPresentation(n), next, nil
}
