package testutil_test

import (
	"testing"

	"github.com/calvinalkan/seglog/internal/testutil"
)

func Test_ByteStream_Yields_Zero_Values_When_Exhausted(t *testing.T) {
	t.Parallel()

	s := testutil.NewByteStream([]byte{7})

	if got, want := s.NextInt(5), 2; got != want {
		t.Fatalf("NextInt=%d, want=%d", got, want)
	}

	if s.HasMore() {
		t.Fatal("HasMore=true after last byte")
	}

	if got := s.NextByte(); got != 0 {
		t.Fatalf("NextByte=%d, want=0", got)
	}

	if got := s.NextPayload(4); len(got) != 0 {
		t.Fatalf("NextPayload=%v, want empty", got)
	}

	if got, want := s.NextPick([]string{"a", "b"}), "a"; got != want {
		t.Fatalf("NextPick=%q, want=%q", got, want)
	}
}

func Test_ByteStream_Payload_Copies_Following_Bytes(t *testing.T) {
	t.Parallel()

	s := testutil.NewByteStream([]byte{3, 'x', 'y', 'z', 'q'})

	if got, want := string(s.NextPayload(8)), "xyz"; got != want {
		t.Fatalf("NextPayload=%q, want=%q", got, want)
	}

	if got, want := s.NextByte(), byte('q'); got != want {
		t.Fatalf("NextByte=%q, want=%q", got, want)
	}
}
