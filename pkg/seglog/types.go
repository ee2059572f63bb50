package seglog

import (
	"fmt"
	"strings"
)

// OffsetRange is an inclusive range of 1-based logical offsets.
type OffsetRange struct {
	Start uint64
	End   uint64
}

// Len returns the number of offsets in the range.
func (r OffsetRange) Len() uint64 {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start + 1
}

func (r OffsetRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

func (r OffsetRange) validate() error {
	if r.Start == 0 {
		return fmt.Errorf("%w: offsets start at 1, got %s", ErrInvalidRange, r)
	}

	if r.Start > r.End {
		return fmt.Errorf("%w: start after end %s", ErrInvalidRange, r)
	}

	return nil
}

// BatchMetadata locates one partition's batch inside a segment.
//
// The batch occupies sum(RecordSizes) bytes starting at FileOffset, records
// stored back to back in order.
type BatchMetadata struct {
	Segment     string
	FileOffset  int64
	RecordSizes []int
}

// Records returns the number of records in the batch.
func (b BatchMetadata) Records() int { return len(b.RecordSizes) }

// ByteLen returns the number of bytes the batch occupies in its segment.
func (b BatchMetadata) ByteLen() int64 { return sumSizes(b.RecordSizes) }

func (b BatchMetadata) validate() error {
	if b.Segment == "" {
		return fmt.Errorf("%w: empty segment name", ErrInvalidBatch)
	}

	if b.FileOffset < 0 {
		return fmt.Errorf("%w: negative file offset %d", ErrInvalidBatch, b.FileOffset)
	}

	if len(b.RecordSizes) == 0 {
		return fmt.Errorf("%w: no records", ErrInvalidBatch)
	}

	for i, n := range b.RecordSizes {
		if n < 0 {
			return fmt.Errorf("%w: record %d has negative size %d", ErrInvalidBatch, i, n)
		}
	}

	return nil
}

// Batches maps topic, then partition, to the batch committed for it in one
// flush.
type Batches map[string]map[string]BatchMetadata

// Add sets the batch for (topic, partition).
func (b Batches) Add(topic, partition string, batch BatchMetadata) {
	parts, ok := b[topic]
	if !ok {
		parts = make(map[string]BatchMetadata)
		b[topic] = parts
	}

	parts[partition] = batch
}

// BatchRead is one physical read: RecordSizes records starting at
// FileOffset in Segment. It may cover only part of a committed batch.
type BatchRead struct {
	Segment     string
	FileOffset  int64
	RecordSizes []int
}

// ByteLen returns the number of bytes to read.
func (r BatchRead) ByteLen() int64 { return sumSizes(r.RecordSizes) }

// BatchReads is the resolution of an offset range, in ascending offset order.
type BatchReads struct {
	Range OffsetRange
	Reads []BatchRead
}

// ReadResult holds the records of Range in offset order.
type ReadResult struct {
	Range   OffsetRange
	Records [][]byte
}

// IndexEntry is a committed batch with its assigned base offset.
type IndexEntry struct {
	Topic      string
	Partition  string
	BaseOffset uint64
	Batch      BatchMetadata
	Writer     string
}

// LastOffset returns the offset of the entry's final record.
func (e IndexEntry) LastOffset() uint64 {
	return e.BaseOffset + uint64(e.Batch.Records()) - 1
}

// PartitionInfo summarizes one partition of the index.
type PartitionInfo struct {
	Topic       string
	Partition   string
	FirstOffset uint64
	LastOffset  uint64
	Batches     int
	Bytes       int64
}

// partitionKey identifies a (topic, partition) pair.
type partitionKey struct {
	topic     string
	partition string
}

func (k partitionKey) String() string {
	return k.topic + "/" + k.partition
}

func comparePartitionKeys(a, b partitionKey) int {
	if c := strings.Compare(a.topic, b.topic); c != 0 {
		return c
	}

	return strings.Compare(a.partition, b.partition)
}

func validateTopicPartition(topic, partition string) error {
	if topic == "" || partition == "" {
		return fmt.Errorf("%w: topic=%q partition=%q", ErrInvalidTopicPartition, topic, partition)
	}

	return nil
}

func sumSizes(sizes []int) int64 {
	var n int64
	for _, s := range sizes {
		n += int64(s)
	}

	return n
}
