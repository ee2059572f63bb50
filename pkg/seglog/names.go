package seglog

import (
	"github.com/google/uuid"
)

// SegmentExt is the file extension of segment names.
const SegmentExt = ".seg"

// NewSegmentName returns a fresh segment name: a UUIDv7 plus [SegmentExt].
// v7 names sort by creation time.
func NewSegmentName() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4,
		// which panics in the same situation.
		id = uuid.New()
	}

	return id.String() + SegmentExt
}
