package wire

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

func mustWire(t *testing.T, name string) []byte {
	t.Helper()
	b, err := NameToWire(name)
	require.NoError(t, err)
	return b
}

func sampleMessage(t *testing.T) domain.Message {
	mxData := append([]byte{0, 10}, mustWire(t, "mail.example.com.")...)
	return domain.Message{
		ID: 0x1234,
		Flags: domain.Flags{
			QR:     true,
			Opcode: domain.OpcodeQuery,
			AA:     true,
			RD:     true,
			RA:     true,
			Z:      0x3,
			RCode:  domain.RCodeNoError,
		},
		Questions: []domain.Question{
			{Name: "www.Example.com.", Type: domain.RRTypeA, Class: domain.RRClassIN},
		},
		Answers: []domain.ResourceRecord{
			{Name: "www.Example.com.", Type: domain.RRTypeCNAME, Class: domain.RRClassIN, TTL: 60, Data: mustWire(t, "web.example.com.")},
			{Name: "web.example.com.", Type: domain.RRTypeA, Class: domain.RRClassIN, TTL: 300, Data: []byte{192, 0, 2, 1}},
		},
		Authority: []domain.ResourceRecord{
			{Name: "example.com.", Type: domain.RRTypeMX, Class: domain.RRClassIN, TTL: 3600, Data: mxData},
		},
	}
}

func TestUDPCodec_RoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		codec := NewUDPCodec(WithCompression(compress))
		msg := sampleMessage(t)

		data, err := codec.Encode(msg)
		require.NoError(t, err)

		got, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got, "compress=%v", compress)
	}
}

func TestUDPCodec_CompressionShrinksMessage(t *testing.T) {
	msg := sampleMessage(t)
	plain, err := NewUDPCodec(WithCompression(false)).Encode(msg)
	require.NoError(t, err)
	packed, err := NewUDPCodec().Encode(msg)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))
}

func TestUDPCodec_RootAndEscapedNames(t *testing.T) {
	codec := NewUDPCodec()
	msg := domain.Message{
		ID: 7,
		Questions: []domain.Question{
			{Name: ".", Type: domain.RRTypeNS, Class: domain.RRClassIN},
			{Name: `odd\.label\\x\032y.test.`, Type: domain.RRTypeTXT, Class: domain.RRClassCH},
		},
	}
	data, err := codec.Encode(msg)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestUDPCodec_DecodesMiekgCompressedMessage(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.org.", dns.TypeMX)
	m.Response = true
	m.Compress = true
	mx, err := dns.NewRR("example.org. 300 IN MX 5 mx1.example.org.")
	require.NoError(t, err)
	soa, err := dns.NewRR("example.org. 60 IN SOA ns1.example.org. hostmaster.example.org. 1 7200 3600 1209600 300")
	require.NoError(t, err)
	m.Answer = []dns.RR{mx}
	m.Ns = []dns.RR{soa}
	data, err := m.Pack()
	require.NoError(t, err)

	got, err := NewUDPCodec().Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Answers, 1)
	require.Len(t, got.Authority, 1)

	assert.Equal(t, m.Id, got.ID)
	assert.Equal(t, "example.org.", got.Questions[0].Name)
	wantMX := append([]byte{0, 5}, mustWire(t, "mx1.example.org.")...)
	assert.Equal(t, wantMX, got.Answers[0].Data)

	name, n, err := NameFromWire(got.Authority[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "ns1.example.org.", name)
	rname, _, err := NameFromWire(got.Authority[0].Data[n:])
	require.NoError(t, err)
	assert.Equal(t, "hostmaster.example.org.", rname)
}

func TestUDPCodec_EncodedMessageParsesWithMiekg(t *testing.T) {
	data, err := NewUDPCodec().Encode(sampleMessage(t))
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(data))
	assert.Equal(t, uint16(0x1234), m.Id)
	require.Len(t, m.Answer, 2)
	cname, ok := m.Answer[0].(*dns.CNAME)
	require.True(t, ok)
	assert.Equal(t, "web.example.com.", cname.Target)
	a, ok := m.Answer[1].(*dns.A)
	require.True(t, ok)
	assert.True(t, a.A.Equal(net.IPv4(192, 0, 2, 1)))
	mx, ok := m.Ns[0].(*dns.MX)
	require.True(t, ok)
	assert.Equal(t, "mail.example.com.", mx.Mx)
}

func header(id uint16, qd, an, ns, ar uint16) []byte {
	b := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(b[0:], id)
	binary.BigEndian.PutUint16(b[4:], qd)
	binary.BigEndian.PutUint16(b[6:], an)
	binary.BigEndian.PutUint16(b[8:], ns)
	binary.BigEndian.PutUint16(b[10:], ar)
	return b
}

func decodeErrKind(t *testing.T, err error) domain.DecodeErrorKind {
	t.Helper()
	var de *domain.DecodeError
	require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
	return de.Kind
}

func TestUDPCodec_DecodeRejectsMalformed(t *testing.T) {
	codec := NewUDPCodec()
	typeClass := []byte{0, 1, 0, 1}

	cases := []struct {
		name string
		data []byte
		want domain.DecodeErrorKind
	}{
		{"empty", nil, domain.DecodeTruncated},
		{"short header", []byte{1, 2, 3}, domain.DecodeTruncated},
		{"self pointer", append(append(header(1, 1, 0, 0, 0), 0xC0, 0x0C), typeClass...), domain.DecodeMalformedName},
		{"forward pointer", append(append(header(1, 1, 0, 0, 0), 0xC0, 0x20), typeClass...), domain.DecodeMalformedName},
		{"reserved label type", append(append(header(1, 1, 0, 0, 0), 0x40, 0x00), typeClass...), domain.DecodeMalformedName},
		{"label past end", append(header(1, 1, 0, 0, 0), 10, 'a', 'b', 0, 0), domain.DecodeTruncated},
		{"missing type class", append(header(1, 1, 0, 0, 0), 1, 'a', 0, 0, 1), domain.DecodeTruncated},
		{"count exceeds buffer", append(header(1, 3, 0, 0, 0), 0, 0, 1, 0, 1), domain.DecodeCountMismatch},
		{"trailing bytes", append(append(header(1, 1, 0, 0, 0), 0, 0, 1, 0, 1), 0xFF), domain.DecodeCountMismatch},
		{"unsupported class", append(header(1, 1, 0, 0, 0), 0, 0, 1, 0, 9), domain.DecodeUnsupportedClass},
		{"record rdata past end", append(header(1, 0, 1, 0, 0), 0, 0, 1, 0, 1, 0, 0, 0, 1, 0, 8, 1, 2), domain.DecodeTruncated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decode(tc.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrDecode)
			assert.Equal(t, tc.want, decodeErrKind(t, err))
		})
	}
}

func TestUDPCodec_DecodeNameTooLong(t *testing.T) {
	data := header(1, 1, 0, 0, 0)
	for i := 0; i < 5; i++ {
		data = append(data, 63)
		data = append(data, []byte(strings.Repeat("a", 63))...)
	}
	data = append(data, 0, 0, 1, 0, 1)
	_, err := NewUDPCodec().Decode(data)
	assert.Equal(t, domain.DecodeMalformedName, decodeErrKind(t, err))
}

func TestUDPCodec_EveryPrefixFailsCleanly(t *testing.T) {
	codec := NewUDPCodec()
	data, err := codec.Encode(sampleMessage(t))
	require.NoError(t, err)
	for n := 0; n < len(data); n++ {
		_, err := codec.Decode(data[:n])
		assert.ErrorIs(t, err, domain.ErrDecode, "prefix length %d", n)
	}
}

func TestReadName_PointerHopLimit(t *testing.T) {
	// a root label at 0 followed by a chain of pointers, each to the previous one
	build := func(hops int) ([]byte, int) {
		buf := []byte{0}
		prev := 0
		for i := 0; i < hops; i++ {
			pos := len(buf)
			buf = append(buf, 0xC0|byte(prev>>8), byte(prev))
			prev = pos
		}
		return buf, prev
	}

	buf, start := build(MaxPointerHops)
	name, next, err := readName(buf, start)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, name)
	assert.Equal(t, start+2, next)

	buf, start = build(MaxPointerHops + 1)
	_, _, err = readName(buf, start)
	require.Error(t, err)
	assert.Equal(t, domain.DecodeMalformedName, decodeErrKind(t, err))
}

func TestUDPCodec_EncodeErrors(t *testing.T) {
	codec := NewUDPCodec()
	cases := []struct {
		name string
		msg  domain.Message
	}{
		{"label too long", domain.Message{Questions: []domain.Question{{Name: strings.Repeat("x", 64) + ".test.", Type: 1, Class: 1}}}},
		{"empty label", domain.Message{Questions: []domain.Question{{Name: "a..test.", Type: 1, Class: 1}}}},
		{"rcode overflow", domain.Message{Flags: domain.Flags{RCode: 16}}},
		{"opcode overflow", domain.Message{Flags: domain.Flags{Opcode: 16}}},
		{"rdata overflow", domain.Message{Answers: []domain.ResourceRecord{{Name: "a.", Type: 1, Class: 1, Data: make([]byte, 0x10000)}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Encode(tc.msg)
			assert.ErrorIs(t, err, domain.ErrEncode)
		})
	}
}

func TestUDPCodec_EncodeReportsFirstOverflowingSection(t *testing.T) {
	codec := NewUDPCodec()
	msg := domain.Message{
		Answers:    make([]domain.ResourceRecord, 0x10000),
		Additional: make([]domain.ResourceRecord, 0x10000),
	}
	for i := 0; i < 5; i++ {
		_, err := codec.Encode(msg)
		var ee *domain.EncodeError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "answers", ee.Field)
	}
}

func FuzzUDPCodec_Decode(f *testing.F) {
	codec := NewUDPCodec()
	m := new(dns.Msg)
	m.SetQuestion("fuzz.example.", dns.TypeA)
	seed, _ := m.Pack()
	f.Add(seed)
	f.Add(append(header(1, 1, 0, 0, 0), 0xC0, 0x0C, 0, 1, 0, 1))
	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := codec.Decode(data)
		if err != nil {
			if !errors.Is(err, domain.ErrDecode) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			return
		}
		if _, err := codec.Encode(msg); err != nil {
			t.Fatalf("decoded message failed to encode: %v", err)
		}
	})
}
