// Package testutil holds helpers shared by fuzz tests.
package testutil

// ByteStream derives values from fuzz input, one byte at a time.
//
// An exhausted stream yields zero values, so the same input always replays
// the same operation sequence.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over b.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte returns the next byte, or 0 if exhausted.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextInt returns a value in [0, maxVal).
func (s *ByteStream) NextInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}

	return int(s.NextByte()) % maxVal
}

// NextPick returns one of choices.
func (s *ByteStream) NextPick(choices []string) string {
	return choices[s.NextInt(len(choices))]
}

// NextPayload returns a record payload of 0 to maxLen bytes. Empty payloads
// are legal records and must survive a round trip.
func (s *ByteStream) NextPayload(maxLen int) []byte {
	n := s.NextInt(maxLen + 1)
	out := make([]byte, n)

	for i := range out {
		out[i] = s.NextByte()
	}

	return out
}
