package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// Decode parses a complete DNS message. Any structural problem yields a
// *domain.DecodeError; the message must be consumed exactly.
func (c *UDPCodec) Decode(data []byte) (domain.Message, error) {
	if len(data) < HeaderLen {
		return domain.Message{}, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: len(data), Detail: "short header"}
	}
	msg := domain.Message{
		ID:    binary.BigEndian.Uint16(data[0:2]),
		Flags: unpackFlags(binary.BigEndian.Uint16(data[2:4])),
	}
	qd := int(binary.BigEndian.Uint16(data[4:6]))
	an := int(binary.BigEndian.Uint16(data[6:8]))
	ns := int(binary.BigEndian.Uint16(data[8:10]))
	ar := int(binary.BigEndian.Uint16(data[10:12]))

	// Reject counts the buffer could never satisfy before allocating for them.
	if qd*minQuestionLen+(an+ns+ar)*minRecordLen > len(data)-HeaderLen {
		return domain.Message{}, &domain.DecodeError{
			Kind:   domain.DecodeCountMismatch,
			Offset: HeaderLen,
			Detail: fmt.Sprintf("counts qd=%d an=%d ns=%d ar=%d exceed %d byte message", qd, an, ns, ar, len(data)),
		}
	}

	off := HeaderLen
	var err error
	if qd > 0 {
		msg.Questions = make([]domain.Question, 0, qd)
		for i := 0; i < qd; i++ {
			var q domain.Question
			q, off, err = decodeQuestion(data, off)
			if err != nil {
				return domain.Message{}, err
			}
			msg.Questions = append(msg.Questions, q)
		}
	}
	if msg.Answers, off, err = decodeSection(data, off, an); err != nil {
		return domain.Message{}, err
	}
	if msg.Authority, off, err = decodeSection(data, off, ns); err != nil {
		return domain.Message{}, err
	}
	if msg.Additional, off, err = decodeSection(data, off, ar); err != nil {
		return domain.Message{}, err
	}
	if off != len(data) {
		return domain.Message{}, &domain.DecodeError{
			Kind:   domain.DecodeCountMismatch,
			Offset: off,
			Detail: fmt.Sprintf("%d trailing bytes after declared sections", len(data)-off),
		}
	}
	return msg, nil
}

func unpackFlags(v uint16) domain.Flags {
	return domain.Flags{
		QR:     v&(1<<15) != 0,
		Opcode: domain.Opcode(v >> 11 & 0xF),
		AA:     v&(1<<10) != 0,
		TC:     v&(1<<9) != 0,
		RD:     v&(1<<8) != 0,
		RA:     v&(1<<7) != 0,
		Z:      uint8(v >> 4 & 0x7),
		RCode:  domain.RCode(v & 0xF),
	}
}

func decodeQuestion(data []byte, off int) (domain.Question, int, error) {
	name, next, err := readName(data, off)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if next+4 > len(data) {
		return domain.Question{}, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: next, Detail: "question type/class"}
	}
	q := domain.Question{
		Name:  wireToPresentation(name),
		Type:  domain.RRType(binary.BigEndian.Uint16(data[next:])),
		Class: domain.RRClass(binary.BigEndian.Uint16(data[next+2:])),
	}
	if !q.Class.IsValid() {
		return domain.Question{}, 0, &domain.DecodeError{Kind: domain.DecodeUnsupportedClass, Offset: next + 2, Detail: q.Class.String()}
	}
	return q, next + 4, nil
}

func decodeSection(data []byte, off, count int) ([]domain.ResourceRecord, int, error) {
	if count == 0 {
		return nil, off, nil
	}
	out := make([]domain.ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, next, err := decodeRecord(data, off)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rr)
		off = next
	}
	return out, off, nil
}

func decodeRecord(data []byte, off int) (domain.ResourceRecord, int, error) {
	name, next, err := readName(data, off)
	if err != nil {
		return domain.ResourceRecord{}, 0, err
	}
	if next+10 > len(data) {
		return domain.ResourceRecord{}, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: next, Detail: "record header"}
	}
	rr := domain.ResourceRecord{
		Name:  wireToPresentation(name),
		Type:  domain.RRType(binary.BigEndian.Uint16(data[next:])),
		Class: domain.RRClass(binary.BigEndian.Uint16(data[next+2:])),
		TTL:   binary.BigEndian.Uint32(data[next+4:]),
	}
	rdlen := int(binary.BigEndian.Uint16(data[next+8:]))
	start := next + 10
	end := start + rdlen
	if end > len(data) {
		return domain.ResourceRecord{}, 0, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: start, Detail: "rdata"}
	}
	if rdlen > 0 {
		rr.Data, err = expandRData(data, start, end, rr.Type)
		if err != nil {
			return domain.ResourceRecord{}, 0, err
		}
	}
	return rr, end, nil
}

// expandRData copies rdata out of the message, decompressing the names that
// RFC 1035 and RFC 2782 allow inside NS, CNAME, PTR, MX, SOA and SRV data.
func expandRData(data []byte, start, end int, t domain.RRType) ([]byte, error) {
	var prefix, suffix, names int
	switch t {
	case domain.RRTypeNS, domain.RRTypeCNAME, domain.RRTypePTR:
		names = 1
	case domain.RRTypeMX:
		prefix, names = 2, 1
	case domain.RRTypeSRV:
		prefix, names = 6, 1
	case domain.RRTypeSOA:
		names, suffix = 2, 20
	default:
		out := make([]byte, end-start)
		copy(out, data[start:end])
		return out, nil
	}
	if start+prefix > end {
		return nil, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: start, Detail: t.String() + " rdata"}
	}
	out := make([]byte, 0, end-start+16)
	out = append(out, data[start:start+prefix]...)
	pos := start + prefix
	for i := 0; i < names; i++ {
		// names must not spill past rdlength
		n, next, err := readName(data[:end], pos)
		if err != nil {
			return nil, err
		}
		out = append(out, n...)
		pos = next
	}
	if pos+suffix != end {
		return nil, &domain.DecodeError{Kind: domain.DecodeTruncated, Offset: pos, Detail: t.String() + " rdata length"}
	}
	out = append(out, data[pos:end]...)
	return out, nil
}
