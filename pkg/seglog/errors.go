package seglog

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidRange is returned for an offset range with start 0 or start
	// after end.
	ErrInvalidRange = errors.New("invalid offset range")

	// ErrUnknownTopicPartition is returned when a partition has no committed
	// batches.
	ErrUnknownTopicPartition = errors.New("unknown topic/partition")

	// ErrOffsetOutOfRange is returned when a requested offset precedes the
	// first committed record or follows the last one. Ranges are never
	// clamped.
	ErrOffsetOutOfRange = errors.New("offset out of range")

	// ErrStorageIO wraps every segment storage failure. The storage error
	// stays in the chain.
	ErrStorageIO = errors.New("segment storage I/O")

	// ErrInvalidBatch is returned when an index submission is malformed.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrInvalidTopicPartition is returned for an empty topic or partition.
	ErrInvalidTopicPartition = errors.New("invalid topic/partition")

	// ErrClosed is returned by a closed [Log].
	ErrClosed = errors.New("log closed")

	// ErrLocked is returned by [Open] when another process owns the data
	// directory.
	ErrLocked = errors.New("data directory locked")

	// ErrCatalogCorrupt is returned when persisted index entries are not a
	// contiguous offset sequence.
	ErrCatalogCorrupt = errors.New("catalog corrupt")
)

// Error carries the operation and location of a failure.
//
// The cause comes first, followed by context:
//
//	segment storage I/O: open 0192.seg: segment not found (op=read topic=orders partition=0 segment=0192.seg)
//
// Use [errors.Is] against the sentinels above; use [errors.As] to get the
// fields.
type Error struct {
	Op        string
	Topic     string
	Partition string
	Segment   string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()

	switch {
	case suffix == "":
		return cause
	case cause == "":
		return suffix
	default:
		return cause + " " + suffix
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.Topic != "" {
		parts = append(parts, "topic="+e.Topic)
	}

	if e.Partition != "" {
		parts = append(parts, "partition="+e.Partition)
	}

	if e.Segment != "" {
		parts = append(parts, "segment="+e.Segment)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// withContext wraps err in *Error. An existing *Error in the chain gets its
// empty fields filled instead.
func withContext(err error, op, topic, partition, segment string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}

		if existing.Topic == "" {
			existing.Topic = topic
		}

		if existing.Partition == "" {
			existing.Partition = partition
		}

		if existing.Segment == "" {
			existing.Segment = segment
		}

		return err
	}

	return &Error{Op: op, Topic: topic, Partition: partition, Segment: segment, Err: err}
}
