package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// encoder accumulates a message and remembers where each owner-name suffix
// was written so later names can point at it.
type encoder struct {
	buf      []byte
	compress bool
	names    map[string]int
}

// Encode serializes msg. Section counts come from the slice lengths.
func (c *UDPCodec) Encode(msg domain.Message) ([]byte, error) {
	flags, err := packFlags(msg.Flags)
	if err != nil {
		return nil, err
	}
	for _, sc := range []struct {
		field string
		n     int
	}{
		{"questions", len(msg.Questions)},
		{"answers", len(msg.Answers)},
		{"authority", len(msg.Authority)},
		{"additional", len(msg.Additional)},
	} {
		if sc.n > 0xFFFF {
			return nil, &domain.EncodeError{Field: sc.field, Detail: fmt.Sprintf("%d entries exceed 65535", sc.n)}
		}
	}

	e := &encoder{
		buf:      make([]byte, HeaderLen, MaxUDPSize),
		compress: c.compress,
	}
	if c.compress {
		e.names = make(map[string]int)
	}
	binary.BigEndian.PutUint16(e.buf[0:], msg.ID)
	binary.BigEndian.PutUint16(e.buf[2:], flags)
	binary.BigEndian.PutUint16(e.buf[4:], uint16(len(msg.Questions)))
	binary.BigEndian.PutUint16(e.buf[6:], uint16(len(msg.Answers)))
	binary.BigEndian.PutUint16(e.buf[8:], uint16(len(msg.Authority)))
	binary.BigEndian.PutUint16(e.buf[10:], uint16(len(msg.Additional)))

	for _, q := range msg.Questions {
		if err := e.name(q.Name); err != nil {
			return nil, err
		}
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(q.Type))
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(q.Class))
	}
	for _, section := range [][]domain.ResourceRecord{msg.Answers, msg.Authority, msg.Additional} {
		for _, rr := range section {
			if err := e.record(rr); err != nil {
				return nil, err
			}
		}
	}
	return e.buf, nil
}

func packFlags(f domain.Flags) (uint16, error) {
	if f.Opcode > 0xF {
		return 0, &domain.EncodeError{Field: "opcode", Detail: fmt.Sprintf("%d does not fit 4 bits", f.Opcode)}
	}
	if f.RCode > 0xF {
		return 0, &domain.EncodeError{Field: "rcode", Detail: fmt.Sprintf("%d does not fit 4 bits", f.RCode)}
	}
	if f.Z > 0x7 {
		return 0, &domain.EncodeError{Field: "z", Detail: fmt.Sprintf("%d does not fit 3 bits", f.Z)}
	}
	var v uint16
	if f.QR {
		v |= 1 << 15
	}
	v |= uint16(f.Opcode) << 11
	if f.AA {
		v |= 1 << 10
	}
	if f.TC {
		v |= 1 << 9
	}
	if f.RD {
		v |= 1 << 8
	}
	if f.RA {
		v |= 1 << 7
	}
	v |= uint16(f.Z) << 4
	v |= uint16(f.RCode)
	return v, nil
}

func (e *encoder) record(rr domain.ResourceRecord) error {
	if len(rr.Data) > 0xFFFF {
		return &domain.EncodeError{Field: "rdata", Detail: fmt.Sprintf("%s %s rdata is %d bytes", rr.Name, rr.Type, len(rr.Data))}
	}
	if err := e.name(rr.Name); err != nil {
		return err
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(rr.Type))
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(rr.Class))
	e.buf = binary.BigEndian.AppendUint32(e.buf, rr.TTL)
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(rr.Data)))
	e.buf = append(e.buf, rr.Data...)
	return nil
}

// name writes an owner name, replacing the longest suffix already present in
// the message with a pointer when compression is on.
func (e *encoder) name(name string) error {
	labels, err := parseLabels(name)
	if err != nil {
		return err
	}
	ptr, match := 0, len(labels)
	if e.compress {
		for i := range labels {
			if off, ok := e.names[suffixKey(labels[i:])]; ok {
				ptr, match = off, i
				break
			}
		}
	}
	for i := 0; i < match; i++ {
		off := len(e.buf)
		if e.compress && off <= maxPointerOff {
			e.names[suffixKey(labels[i:])] = off
		}
		e.buf = append(e.buf, byte(len(labels[i])))
		e.buf = append(e.buf, labels[i]...)
	}
	if match < len(labels) {
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(0xC000|ptr))
		return nil
	}
	e.buf = append(e.buf, 0)
	return nil
}
