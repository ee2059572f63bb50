package seglog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Journal persists index entries before they become visible.
//
// AppendEntries runs after offsets are assigned, while the touched
// partitions are closed to other writers but still open to readers. An error
// aborts the whole index write.
type Journal interface {
	AppendEntries(ctx context.Context, entries []IndexEntry, writerID string) error
}

// IndexOptions configures a [MetadataStore].
type IndexOptions struct {
	// Journal, if set, persists every write. See [Journal].
	Journal Journal

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Metrics *Metrics
}

// MetadataStore is the offset index shared by all agents of a log.
//
// Each partition holds its batches sorted by base offset, where the base of a
// batch is the previous base plus the previous batch's record count and the
// first base is 1. Writers to a partition are serialized by its commit lock,
// which also covers the journal. Readers only contend with the slice appends
// that publish a committed batch. The store lock only guards the partition
// map. No segment I/O happens under any of these locks.
type MetadataStore struct {
	mu         sync.RWMutex
	partitions map[partitionKey]*partitionIndex

	journal Journal
	logger  *slog.Logger
	metrics *Metrics
}

type partitionIndex struct {
	// commit serializes writers from offset assignment through publish.
	commit sync.Mutex

	// mu guards the slices. Writers hold it only while appending.
	mu      sync.RWMutex
	bases   []uint64
	batches []BatchMetadata
	writers []string
}

// next returns the base offset for the next batch. Caller holds p.mu or
// p.commit.
func (p *partitionIndex) next() uint64 {
	n := len(p.bases)
	if n == 0 {
		return 1
	}

	return p.bases[n-1] + uint64(p.batches[n-1].Records())
}

func (p *partitionIndex) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.bases)
}

// containing returns the index of the batch holding offset o, or -1 if o
// precedes the first batch. Caller holds p.mu.
func (p *partitionIndex) containing(o uint64) int {
	return sort.Search(len(p.bases), func(i int) bool { return p.bases[i] > o }) - 1
}

// NewMetadataStore returns an empty index.
func NewMetadataStore(opts IndexOptions) *MetadataStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MetadataStore{
		partitions: make(map[partitionKey]*partitionIndex),
		journal:    opts.Journal,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Write commits one batch per (topic, partition) and returns the created
// entries sorted by topic and partition.
//
// For every partition the read of the last key, the computation of the next
// base offset and the insert happen under that partition's lock, so
// concurrent writers to one partition always produce contiguous offsets.
// Either every batch in the call becomes visible or none does.
func (s *MetadataStore) Write(ctx context.Context, batches Batches, writerID string) ([]IndexEntry, error) {
	entries, err := s.write(ctx, batches, writerID)
	s.metrics.indexWrite(err)

	if err != nil {
		return nil, withContext(err, "index write", "", "", "")
	}

	return entries, nil
}

func (s *MetadataStore) write(ctx context.Context, batches Batches, writerID string) ([]IndexEntry, error) {
	var keys []partitionKey

	for topic, parts := range batches {
		for partition, batch := range parts {
			if err := validateTopicPartition(topic, partition); err != nil {
				return nil, err
			}

			if err := batch.validate(); err != nil {
				return nil, withContext(err, "", topic, partition, batch.Segment)
			}

			keys = append(keys, partitionKey{topic: topic, partition: partition})
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	// A fixed lock order keeps concurrent multi-partition writes deadlock free.
	slices.SortFunc(keys, comparePartitionKeys)

	parts := s.acquire(keys)
	for _, p := range parts {
		p.commit.Lock()
	}

	defer func() {
		for _, p := range parts {
			p.commit.Unlock()
		}
	}()

	entries := make([]IndexEntry, len(keys))

	for i, key := range keys {
		batch := batches[key.topic][key.partition]
		batch.RecordSizes = slices.Clone(batch.RecordSizes)

		entries[i] = IndexEntry{
			Topic:      key.topic,
			Partition:  key.partition,
			BaseOffset: parts[i].next(),
			Batch:      batch,
			Writer:     writerID,
		}
	}

	if s.journal != nil {
		if err := s.journal.AppendEntries(ctx, entries, writerID); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	// Publish every batch of the call under all partition locks at once so a
	// reader never sees part of a multi-partition write.
	for _, p := range parts {
		p.mu.Lock()
	}

	for i, e := range entries {
		parts[i].bases = append(parts[i].bases, e.BaseOffset)
		parts[i].batches = append(parts[i].batches, e.Batch)
		parts[i].writers = append(parts[i].writers, e.Writer)
	}

	for _, p := range parts {
		p.mu.Unlock()
	}

	for _, e := range entries {
		s.logger.Debug("index write",
			"topic", e.Topic,
			"partition", e.Partition,
			"base_offset", e.BaseOffset,
			"records", e.Batch.Records(),
			"segment", e.Batch.Segment,
			"writer", writerID,
		)
	}

	return entries, nil
}

// acquire returns the partition indexes for keys, creating missing ones.
func (s *MetadataStore) acquire(keys []partitionKey) []*partitionIndex {
	parts := make([]*partitionIndex, len(keys))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, key := range keys {
		p, ok := s.partitions[key]
		if !ok {
			p = &partitionIndex{}
			s.partitions[key] = p
		}

		parts[i] = p
	}

	return parts
}

func (s *MetadataStore) lookup(topic, partition string) *partitionIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.partitions[partitionKey{topic: topic, partition: partition}]
}

// Read resolves rng to the byte windows holding its records.
//
// The first window starts at the record for rng.Start even when that record
// is in the middle of a batch, and the last window ends with the record for
// rng.End. Batches fully inside the range are returned whole.
//
// Fails with [ErrInvalidRange], [ErrUnknownTopicPartition] or
// [ErrOffsetOutOfRange].
func (s *MetadataStore) Read(topic, partition string, rng OffsetRange) (BatchReads, error) {
	reads, err := s.read(topic, partition, rng)
	if err != nil {
		return BatchReads{}, withContext(err, "index read", topic, partition, "")
	}

	return reads, nil
}

func (s *MetadataStore) read(topic, partition string, rng OffsetRange) (BatchReads, error) {
	if err := rng.validate(); err != nil {
		return BatchReads{}, err
	}

	p := s.lookup(topic, partition)
	if p == nil {
		return BatchReads{}, ErrUnknownTopicPartition
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.bases) == 0 {
		return BatchReads{}, ErrUnknownTopicPartition
	}

	first, last := p.bases[0], p.next()-1
	if rng.Start < first || rng.End > last {
		return BatchReads{}, fmt.Errorf("%w: requested %s, have [%d, %d]", ErrOffsetOutOfRange, rng, first, last)
	}

	lo, hi := p.containing(rng.Start), p.containing(rng.End)
	out := make([]BatchRead, 0, hi-lo+1)

	for i := lo; i <= hi; i++ {
		batch, base := p.batches[i], p.bases[i]
		from, to := 0, batch.Records()

		if i == lo {
			from = int(rng.Start - base)
		}

		if i == hi {
			to = int(rng.End-base) + 1
		}

		out = append(out, BatchRead{
			Segment:     batch.Segment,
			FileOffset:  batch.FileOffset + sumSizes(batch.RecordSizes[:from]),
			RecordSizes: slices.Clone(batch.RecordSizes[from:to]),
		})
	}

	return BatchReads{Range: rng, Reads: out}, nil
}

// Restore loads previously committed entries, typically replayed from a
// journal into a fresh store. Entries may come in any order but must form a
// contiguous sequence from offset 1 in every partition; otherwise
// [ErrCatalogCorrupt] is returned and the store is left unchanged.
func (s *MetadataStore) Restore(entries []IndexEntry) error {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b IndexEntry) int {
		if c := comparePartitionKeys(
			partitionKey{topic: a.Topic, partition: a.Partition},
			partitionKey{topic: b.Topic, partition: b.Partition},
		); c != 0 {
			return c
		}

		switch {
		case a.BaseOffset < b.BaseOffset:
			return -1
		case a.BaseOffset > b.BaseOffset:
			return 1
		default:
			return 0
		}
	})

	staged := make(map[partitionKey]*partitionIndex)

	for _, e := range sorted {
		key := partitionKey{topic: e.Topic, partition: e.Partition}
		if err := validateTopicPartition(e.Topic, e.Partition); err != nil {
			return fmt.Errorf("%w: %w", ErrCatalogCorrupt, err)
		}

		if err := e.Batch.validate(); err != nil {
			return fmt.Errorf("%w: %s@%d: %w", ErrCatalogCorrupt, key, e.BaseOffset, err)
		}

		p, ok := staged[key]
		if !ok {
			p = &partitionIndex{}
			staged[key] = p
		}

		if want := p.next(); e.BaseOffset != want {
			return fmt.Errorf("%w: %s: base offset %d, want %d", ErrCatalogCorrupt, key, e.BaseOffset, want)
		}

		p.bases = append(p.bases, e.BaseOffset)
		p.batches = append(p.batches, e.Batch)
		p.writers = append(p.writers, e.Writer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range staged {
		if p, ok := s.partitions[key]; ok && p.count() > 0 {
			return fmt.Errorf("restore %s: partition already has entries", key)
		}
	}

	for key, p := range staged {
		s.partitions[key] = p
	}

	return nil
}

// Partitions returns every partition with committed batches, sorted by topic
// then partition.
func (s *MetadataStore) Partitions() []PartitionInfo {
	s.mu.RLock()
	keys := make([]partitionKey, 0, len(s.partitions))
	parts := make(map[partitionKey]*partitionIndex, len(s.partitions))

	for key, p := range s.partitions {
		keys = append(keys, key)
		parts[key] = p
	}
	s.mu.RUnlock()

	slices.SortFunc(keys, comparePartitionKeys)

	infos := make([]PartitionInfo, 0, len(keys))

	for _, key := range keys {
		p := parts[key]
		p.mu.RLock()

		if len(p.bases) > 0 {
			info := PartitionInfo{
				Topic:       key.topic,
				Partition:   key.partition,
				FirstOffset: p.bases[0],
				LastOffset:  p.next() - 1,
				Batches:     len(p.batches),
			}

			for _, b := range p.batches {
				info.Bytes += b.ByteLen()
			}

			infos = append(infos, info)
		}

		p.mu.RUnlock()
	}

	return infos
}

// Entries returns the committed entries of one partition in offset order.
func (s *MetadataStore) Entries(topic, partition string) ([]IndexEntry, error) {
	p := s.lookup(topic, partition)
	if p == nil {
		return nil, withContext(ErrUnknownTopicPartition, "entries", topic, partition, "")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.bases) == 0 {
		return nil, withContext(ErrUnknownTopicPartition, "entries", topic, partition, "")
	}

	entries := make([]IndexEntry, len(p.bases))
	for i := range p.bases {
		batch := p.batches[i]
		batch.RecordSizes = slices.Clone(batch.RecordSizes)
		entries[i] = IndexEntry{
			Topic:      topic,
			Partition:  partition,
			BaseOffset: p.bases[i],
			Batch:      batch,
			Writer:     p.writers[i],
		}
	}

	return entries, nil
}

// AllEntries returns the entries of every partition, sorted by topic,
// partition and offset.
func (s *MetadataStore) AllEntries() []IndexEntry {
	var all []IndexEntry

	for _, info := range s.Partitions() {
		entries, err := s.Entries(info.Topic, info.Partition)
		if err != nil {
			continue
		}

		all = append(all, entries...)
	}

	return all
}

// LastOffset returns the offset of the partition's last committed record.
// ok is false when the partition has none.
func (s *MetadataStore) LastOffset(topic, partition string) (last uint64, ok bool) {
	p := s.lookup(topic, partition)
	if p == nil {
		return 0, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.bases) == 0 {
		return 0, false
	}

	return p.next() - 1, true
}
