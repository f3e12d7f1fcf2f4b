package domain

// Flags holds the second 16-bit word of the DNS header, split into fields.
// Z carries the three reserved bits (including AD and CD) verbatim.
type Flags struct {
	QR     bool
	Opcode Opcode
	AA     bool
	TC     bool
	RD     bool
	RA     bool
	Z      uint8
	RCode  RCode
}

// Message is a complete DNS message. Section counts are not stored: the
// codec derives them from the slice lengths on encode and checks them on decode.
type Message struct {
	ID         uint16
	Flags      Flags
	Questions  []Question
	Answers    []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// IsResponse reports whether the QR bit is set.
func (m Message) IsResponse() bool { return m.Flags.QR }

// NewReply builds the skeleton response for a query: same ID, opcode, RD and
// questions, with QR set.
func NewReply(query Message) Message {
	qs := make([]Question, len(query.Questions))
	copy(qs, query.Questions)
	return Message{
		ID: query.ID,
		Flags: Flags{
			QR:     true,
			Opcode: query.Flags.Opcode,
			RD:     query.Flags.RD,
		},
		Questions: qs,
	}
}

// Answer is what a resolver hands back for a single question.
type Answer struct {
	Records       []ResourceRecord
	Authority     []ResourceRecord
	Additional    []ResourceRecord
	RCode         RCode
	Authoritative bool
}

// Empty reports whether no section carries records.
func (a Answer) Empty() bool {
	return len(a.Records) == 0 && len(a.Authority) == 0 && len(a.Additional) == 0
}
