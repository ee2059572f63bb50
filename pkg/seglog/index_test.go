package seglog_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

func batch(segment string, offset int64, sizes ...int) seglog.BatchMetadata {
	return seglog.BatchMetadata{Segment: segment, FileOffset: offset, RecordSizes: sizes}
}

func single(topic, partition string, b seglog.BatchMetadata) seglog.Batches {
	out := make(seglog.Batches)
	out.Add(topic, partition, b)

	return out
}

func mustWrite(t *testing.T, idx *seglog.MetadataStore, batches seglog.Batches) []seglog.IndexEntry {
	t.Helper()

	entries, err := idx.Write(t.Context(), batches, "w1")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	return entries
}

// threeBatchIndex holds offsets 1-3 and 4 in s1, then 5-6 in s2.
func threeBatchIndex(t *testing.T) *seglog.MetadataStore {
	t.Helper()

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})
	mustWrite(t, idx, single("t", "p", batch("s1", 0, 1, 2, 3)))
	mustWrite(t, idx, single("t", "p", batch("s1", 6, 4)))
	mustWrite(t, idx, single("t", "p", batch("s2", 0, 5, 6)))

	return idx
}

func Test_MetadataStore_Write_Assigns_Next_Offset_From_Last_Batch(t *testing.T) {
	t.Parallel()

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})

	first := mustWrite(t, idx, single("1", "1", batch("a", 0, 4, 7)))

	second := make(seglog.Batches)
	second.Add("2", "2", batch("b", 0, 5))
	second.Add("1", "1", batch("b", 5, 6))

	got := mustWrite(t, idx, second)

	want := []seglog.IndexEntry{
		{Topic: "1", Partition: "1", BaseOffset: 3, Batch: batch("b", 5, 6), Writer: "w1"},
		{Topic: "2", Partition: "2", BaseOffset: 1, Batch: batch("b", 0, 5), Writer: "w1"},
	}

	if first[0].BaseOffset != 1 {
		t.Fatalf("first base=%d, want=1", first[0].BaseOffset)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func Test_MetadataStore_Read_Trims_Partial_Batch_When_Range_Is_Inside_One_Batch(t *testing.T) {
	t.Parallel()

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})
	mustWrite(t, idx, single("t", "p", batch("s", 10, 4, 7, 6)))

	got, err := idx.Read("t", "p", seglog.OffsetRange{Start: 2, End: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := seglog.BatchReads{
		Range: seglog.OffsetRange{Start: 2, End: 2},
		Reads: []seglog.BatchRead{{Segment: "s", FileOffset: 14, RecordSizes: []int{7}}},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reads mismatch (-want +got):\n%s", diff)
	}
}

func Test_MetadataStore_Read_Resolves_Ranges_Across_Batches(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)

	tests := []struct {
		name string
		rng  seglog.OffsetRange
		want []seglog.BatchRead
	}{
		{
			name: "whole history",
			rng:  seglog.OffsetRange{Start: 1, End: 6},
			want: []seglog.BatchRead{
				{Segment: "s1", FileOffset: 0, RecordSizes: []int{1, 2, 3}},
				{Segment: "s1", FileOffset: 6, RecordSizes: []int{4}},
				{Segment: "s2", FileOffset: 0, RecordSizes: []int{5, 6}},
			},
		},
		{
			name: "trimmed at both ends",
			rng:  seglog.OffsetRange{Start: 3, End: 5},
			want: []seglog.BatchRead{
				{Segment: "s1", FileOffset: 3, RecordSizes: []int{3}},
				{Segment: "s1", FileOffset: 6, RecordSizes: []int{4}},
				{Segment: "s2", FileOffset: 0, RecordSizes: []int{5}},
			},
		},
		{
			name: "starts mid batch",
			rng:  seglog.OffsetRange{Start: 2, End: 4},
			want: []seglog.BatchRead{
				{Segment: "s1", FileOffset: 1, RecordSizes: []int{2, 3}},
				{Segment: "s1", FileOffset: 6, RecordSizes: []int{4}},
			},
		},
		{
			name: "last record",
			rng:  seglog.OffsetRange{Start: 6, End: 6},
			want: []seglog.BatchRead{
				{Segment: "s2", FileOffset: 5, RecordSizes: []int{6}},
			},
		},
		{
			name: "exact single batch",
			rng:  seglog.OffsetRange{Start: 4, End: 4},
			want: []seglog.BatchRead{
				{Segment: "s1", FileOffset: 6, RecordSizes: []int{4}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := idx.Read("t", "p", tt.rng)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}

			if got.Range != tt.rng {
				t.Fatalf("range=%v, want=%v", got.Range, tt.rng)
			}

			if diff := cmp.Diff(tt.want, got.Reads); diff != "" {
				t.Fatalf("reads mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_MetadataStore_Read_Returns_ErrOffsetOutOfRange_When_Range_Passes_Last_Record(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)

	for _, rng := range []seglog.OffsetRange{{Start: 5, End: 7}, {Start: 7, End: 7}, {Start: 100, End: 200}} {
		_, err := idx.Read("t", "p", rng)
		if !errors.Is(err, seglog.ErrOffsetOutOfRange) {
			t.Fatalf("range %v: err=%v, want ErrOffsetOutOfRange", rng, err)
		}
	}
}

func Test_MetadataStore_Read_Returns_ErrInvalidRange_When_Range_Is_Malformed(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)

	for _, rng := range []seglog.OffsetRange{{Start: 0, End: 1}, {Start: 3, End: 2}} {
		_, err := idx.Read("t", "p", rng)
		if !errors.Is(err, seglog.ErrInvalidRange) {
			t.Fatalf("range %v: err=%v, want ErrInvalidRange", rng, err)
		}
	}
}

func Test_MetadataStore_Read_Returns_ErrUnknownTopicPartition_When_Partition_Has_No_Batches(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)

	_, err := idx.Read("t", "other", seglog.OffsetRange{Start: 1, End: 1})
	if !errors.Is(err, seglog.ErrUnknownTopicPartition) {
		t.Fatalf("err=%v, want ErrUnknownTopicPartition", err)
	}

	var serr *seglog.Error
	if !errors.As(err, &serr) || serr.Topic != "t" || serr.Partition != "other" {
		t.Fatalf("err=%v, want *seglog.Error with topic and partition", err)
	}
}

func Test_MetadataStore_Read_Returns_Copies_When_Caller_Mutates_Result(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)
	rng := seglog.OffsetRange{Start: 1, End: 3}

	got, err := idx.Read("t", "p", rng)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	got.Reads[0].RecordSizes[0] = 99

	again, _ := idx.Read("t", "p", rng)
	if again.Reads[0].RecordSizes[0] != 1 {
		t.Fatalf("index mutated through read result: %v", again.Reads[0].RecordSizes)
	}
}

func Test_MetadataStore_Write_Rejects_Whole_Call_When_Any_Batch_Is_Invalid(t *testing.T) {
	t.Parallel()

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})

	batches := make(seglog.Batches)
	batches.Add("t", "a", batch("s", 0, 1))
	batches.Add("t", "b", batch("s", 1))

	_, err := idx.Write(t.Context(), batches, "w1")
	if !errors.Is(err, seglog.ErrInvalidBatch) {
		t.Fatalf("err=%v, want ErrInvalidBatch", err)
	}

	if got := idx.Partitions(); len(got) != 0 {
		t.Fatalf("partitions=%v, want none", got)
	}
}

type failingJournal struct {
	mu    sync.Mutex
	fail  bool
	calls [][]seglog.IndexEntry
}

func (j *failingJournal) AppendEntries(_ context.Context, entries []seglog.IndexEntry, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.calls = append(j.calls, entries)

	if j.fail {
		return errors.New("disk full")
	}

	return nil
}

func Test_MetadataStore_Write_Inserts_Nothing_When_Journal_Fails(t *testing.T) {
	t.Parallel()

	journal := &failingJournal{fail: true}
	idx := seglog.NewMetadataStore(seglog.IndexOptions{Journal: journal})

	_, err := idx.Write(t.Context(), single("t", "p", batch("s", 0, 3)), "w1")
	if err == nil {
		t.Fatal("expected journal error")
	}

	if _, ok := idx.LastOffset("t", "p"); ok {
		t.Fatal("partition visible after failed journal")
	}

	_, err = idx.Read("t", "p", seglog.OffsetRange{Start: 1, End: 1})
	if !errors.Is(err, seglog.ErrUnknownTopicPartition) {
		t.Fatalf("err=%v, want ErrUnknownTopicPartition", err)
	}

	journal.fail = false

	entries := mustWrite(t, idx, single("t", "p", batch("s2", 0, 3)))
	if entries[0].BaseOffset != 1 {
		t.Fatalf("base=%d, want=1 after failed attempt", entries[0].BaseOffset)
	}

	if got := len(journal.calls); got != 2 {
		t.Fatalf("journal calls=%d, want=2", got)
	}
}

type blockingJournal struct {
	entered chan struct{}
	release chan struct{}
}

func (j *blockingJournal) AppendEntries(ctx context.Context, _ []seglog.IndexEntry, _ string) error {
	j.entered <- struct{}{}

	select {
	case <-j.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func Test_MetadataStore_Read_Does_Not_Wait_When_Journal_Blocks(t *testing.T) {
	t.Parallel()

	journal := &blockingJournal{entered: make(chan struct{}, 1), release: make(chan struct{})}
	idx := seglog.NewMetadataStore(seglog.IndexOptions{Journal: journal})

	first := make(chan error, 1)

	go func() {
		_, err := idx.Write(t.Context(), single("t", "p", batch("s1", 0, 2)), "w1")
		first <- err
	}()

	<-journal.entered
	close(journal.release)
	require.NoError(t, <-first)

	journal.release = make(chan struct{})
	release := journal.release

	second := make(chan []seglog.IndexEntry, 1)

	go func() {
		entries, err := idx.Write(t.Context(), single("t", "p", batch("s2", 0, 3)), "w1")
		if err != nil {
			t.Errorf("write: %v", err)
		}

		second <- entries
	}()

	<-journal.entered

	readDone := make(chan error, 1)

	go func() {
		reads, err := idx.Read("t", "p", seglog.OffsetRange{Start: 1, End: 2})
		if err == nil && len(reads.Reads) != 1 {
			err = fmt.Errorf("reads=%d, want=1", len(reads.Reads))
		}

		readDone <- err
	}()

	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("read blocked behind journal")
	}

	if last, _ := idx.LastOffset("t", "p"); last != 2 {
		t.Fatalf("last=%d, want=2 while second write is in the journal", last)
	}

	close(release)

	entries := <-second
	if len(entries) != 1 || entries[0].BaseOffset != 3 {
		t.Fatalf("entries=%+v, want base=3", entries)
	}

	if last, _ := idx.LastOffset("t", "p"); last != 5 {
		t.Fatalf("last=%d, want=5", last)
	}
}

func Test_MetadataStore_Write_Produces_Contiguous_Offsets_When_Writers_Race(t *testing.T) {
	t.Parallel()

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})

	const (
		writers = 8
		rounds  = 200
	)

	var wg sync.WaitGroup

	for w := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for r := range rounds {
				batches := make(seglog.Batches)
				batches.Add("shared", "0", batch(fmt.Sprintf("w%d-%d", w, r), 0, make([]int, 1+r%3)...))
				batches.Add("shared", "1", batch(fmt.Sprintf("w%d-%d", w, r), 0, make([]int, 1+w%2)...))

				if _, err := idx.Write(context.Background(), batches, fmt.Sprint(w)); err != nil {
					t.Errorf("Write: %v", err)

					return
				}
			}
		}()
	}

	wg.Wait()

	for _, partition := range []string{"0", "1"} {
		entries, err := idx.Entries("shared", partition)
		require.NoError(t, err)
		require.Len(t, entries, writers*rounds)

		next := uint64(1)
		for _, e := range entries {
			require.Equal(t, next, e.BaseOffset, "partition %s", partition)
			next = e.LastOffset() + 1
		}

		last, ok := idx.LastOffset("shared", partition)
		require.True(t, ok)
		require.Equal(t, next-1, last)
	}
}

func Test_MetadataStore_Restore_Rebuilds_Index_When_Entries_Are_Contiguous(t *testing.T) {
	t.Parallel()

	src := threeBatchIndex(t)
	entries := src.AllEntries()

	// Reverse to check ordering does not matter.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	dst := seglog.NewMetadataStore(seglog.IndexOptions{})
	if err := dst.Restore(entries); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if diff := cmp.Diff(src.Partitions(), dst.Partitions()); diff != "" {
		t.Fatalf("partitions mismatch (-want +got):\n%s", diff)
	}

	got := mustWrite(t, dst, single("t", "p", batch("s3", 0, 1)))
	if got[0].BaseOffset != 7 {
		t.Fatalf("base=%d, want=7", got[0].BaseOffset)
	}
}

func Test_MetadataStore_Restore_Returns_ErrCatalogCorrupt_When_Offsets_Have_Gap(t *testing.T) {
	t.Parallel()

	entries := []seglog.IndexEntry{
		{Topic: "t", Partition: "p", BaseOffset: 1, Batch: batch("s", 0, 1, 1)},
		{Topic: "t", Partition: "p", BaseOffset: 4, Batch: batch("s", 2, 1)},
	}

	idx := seglog.NewMetadataStore(seglog.IndexOptions{})

	err := idx.Restore(entries)
	if !errors.Is(err, seglog.ErrCatalogCorrupt) {
		t.Fatalf("err=%v, want ErrCatalogCorrupt", err)
	}

	if len(idx.Partitions()) != 0 {
		t.Fatal("restore applied partially")
	}
}

func Test_MetadataStore_Partitions_Summarizes_Every_Partition_In_Order(t *testing.T) {
	t.Parallel()

	idx := threeBatchIndex(t)
	mustWrite(t, idx, single("a", "9", batch("s3", 0, 2, 2)))

	want := []seglog.PartitionInfo{
		{Topic: "a", Partition: "9", FirstOffset: 1, LastOffset: 2, Batches: 1, Bytes: 4},
		{Topic: "t", Partition: "p", FirstOffset: 1, LastOffset: 6, Batches: 3, Bytes: 21},
	}

	if diff := cmp.Diff(want, idx.Partitions()); diff != "" {
		t.Fatalf("partitions mismatch (-want +got):\n%s", diff)
	}
}
