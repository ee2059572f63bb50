package seglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/seglog/pkg/segment"
)

// Index is the part of [MetadataStore] an [Agent] uses.
type Index interface {
	Write(ctx context.Context, batches Batches, writerID string) ([]IndexEntry, error)
	Read(topic, partition string, rng OffsetRange) (BatchReads, error)
}

// DefaultReadConcurrency bounds the segment fetches of one read.
const DefaultReadConcurrency = 4

// AgentConfig configures an [Agent].
type AgentConfig struct {
	// ID tags index writes. Required.
	ID string

	// Index is shared by all agents of a log. Required.
	Index Index

	// Storage holds segments. Required.
	Storage segment.Storage

	// NewSegmentName returns a globally unique name per call. Defaults to
	// [NewSegmentName].
	NewSegmentName func() string

	// ReadConcurrency bounds concurrent window fetches per read. Defaults to
	// [DefaultReadConcurrency].
	ReadConcurrency int

	Logger  *slog.Logger
	Metrics *Metrics
}

// Agent buffers writes for any number of partitions and flushes them as one
// segment per call.
//
// Write and Flush on one agent are serialized by an internal mutex. Reads
// only touch the index and storage and run concurrently with everything.
type Agent struct {
	id       string
	index    Index
	storage  segment.Storage
	newName  func() string
	readConc int
	logger   *slog.Logger
	metrics  *Metrics

	mu      sync.Mutex
	buffers map[partitionKey]*buffer
}

type buffer struct {
	data  []byte
	sizes []int
}

// FlushResult describes a committed flush. It is the zero value when there
// was nothing to flush.
type FlushResult struct {
	Segment string
	Bytes   int64
	Entries []IndexEntry
}

// BufferedPartition reports unflushed data for one partition.
type BufferedPartition struct {
	Topic     string
	Partition string
	Records   int
	Bytes     int64
}

// NewAgent validates cfg and returns an agent with empty buffers.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.ID == "" {
		return nil, errors.New("agent: id is empty")
	}

	if cfg.Index == nil {
		return nil, errors.New("agent: index is nil")
	}

	if cfg.Storage == nil {
		return nil, errors.New("agent: storage is nil")
	}

	newName := cfg.NewSegmentName
	if newName == nil {
		newName = NewSegmentName
	}

	readConc := cfg.ReadConcurrency
	if readConc <= 0 {
		readConc = DefaultReadConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		id:       cfg.ID,
		index:    cfg.Index,
		storage:  cfg.Storage,
		newName:  newName,
		readConc: readConc,
		logger:   logger.With("agent", cfg.ID),
		metrics:  cfg.Metrics,
		buffers:  make(map[partitionKey]*buffer),
	}, nil
}

// ID returns the agent's writer id.
func (a *Agent) ID() string { return a.id }

// Write appends payload to the buffer of (topic, partition). The payload is
// copied and may be empty. Nothing is visible to readers until a flush
// commits.
func (a *Agent) Write(topic, partition string, payload []byte) error {
	if err := validateTopicPartition(topic, partition); err != nil {
		return withContext(err, "write", topic, partition, "")
	}

	key := partitionKey{topic: topic, partition: partition}

	a.mu.Lock()

	buf, ok := a.buffers[key]
	if !ok {
		buf = &buffer{}
		a.buffers[key] = buf
	}

	buf.data = append(buf.data, payload...)
	buf.sizes = append(buf.sizes, len(payload))

	a.mu.Unlock()

	a.metrics.recordAppended()

	return nil
}

// Buffered returns the unflushed partitions sorted by topic and partition.
func (a *Agent) Buffered() []BufferedPartition {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]BufferedPartition, 0, len(a.buffers))
	for key, buf := range a.buffers {
		out = append(out, BufferedPartition{
			Topic:     key.topic,
			Partition: key.partition,
			Records:   len(buf.sizes),
			Bytes:     int64(len(buf.data)),
		})
	}

	slices.SortFunc(out, func(x, y BufferedPartition) int {
		return comparePartitionKeys(
			partitionKey{topic: x.Topic, partition: x.Partition},
			partitionKey{topic: y.Topic, partition: y.Partition},
		)
	})

	return out
}

// Flush packs every buffered partition into one new segment and commits a
// batch per partition to the index.
//
// Partitions are packed in topic, partition order. The segment is written
// first and the index second; buffers are cleared only after both succeed.
// On failure nothing is visible, the buffers are kept and Flush can be
// retried. A retry uses a new segment name, so a segment left by the failed
// attempt is never referenced.
//
// Flush with nothing buffered returns the zero FlushResult and does no I/O.
func (a *Agent) Flush(ctx context.Context) (FlushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]partitionKey, 0, len(a.buffers))

	var total int

	for key, buf := range a.buffers {
		if len(buf.sizes) == 0 {
			continue
		}

		keys = append(keys, key)
		total += len(buf.data)
	}

	if len(keys) == 0 {
		return FlushResult{}, nil
	}

	slices.SortFunc(keys, comparePartitionKeys)

	start := time.Now()
	name := a.newName()
	data := make([]byte, 0, total)
	batches := make(Batches)

	for _, key := range keys {
		buf := a.buffers[key]
		batches.Add(key.topic, key.partition, BatchMetadata{
			Segment:     name,
			FileOffset:  int64(len(data)),
			RecordSizes: buf.sizes,
		})
		data = append(data, buf.data...)
	}

	if err := a.storage.Create(ctx, name, data); err != nil {
		err = withContext(fmt.Errorf("%w: %w", ErrStorageIO, err), "flush", "", "", name)
		a.metrics.flushed(0, start, err)
		a.logger.Warn("flush failed", "segment", name, "stage", "segment", "error", err)

		return FlushResult{}, err
	}

	entries, err := a.index.Write(ctx, batches, a.id)
	if err != nil {
		err = withContext(err, "flush", "", "", name)
		a.metrics.flushed(0, start, err)
		a.logger.Warn("flush failed", "segment", name, "stage", "index", "error", err)

		return FlushResult{}, err
	}

	for _, key := range keys {
		delete(a.buffers, key)
	}

	a.metrics.flushed(int64(len(data)), start, nil)
	a.logger.Debug("flush committed",
		"segment", name,
		"bytes", len(data),
		"partitions", len(keys),
		"duration", time.Since(start),
	)

	return FlushResult{Segment: name, Bytes: int64(len(data)), Entries: entries}, nil
}

// Read returns the records of rng in offset order.
//
// Windows are fetched concurrently. Any failure fails the whole read; no
// partial result is returned. Storage failures satisfy
// errors.Is(err, ErrStorageIO).
func (a *Agent) Read(ctx context.Context, topic, partition string, rng OffsetRange) (ReadResult, error) {
	start := time.Now()

	res, err := a.read(ctx, topic, partition, rng)
	a.metrics.read(len(res.Records), start, err)

	if err != nil {
		return ReadResult{}, withContext(err, "read", topic, partition, "")
	}

	return res, nil
}

func (a *Agent) read(ctx context.Context, topic, partition string, rng OffsetRange) (ReadResult, error) {
	if err := rng.validate(); err != nil {
		return ReadResult{}, err
	}

	reads, err := a.index.Read(topic, partition, rng)
	if err != nil {
		return ReadResult{}, err
	}

	windows := make([][][]byte, len(reads.Reads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.readConc)

	for i, r := range reads.Reads {
		g.Go(func() error {
			records, err := a.fetch(gctx, r)
			if err != nil {
				return withContext(err, "", "", "", r.Segment)
			}

			windows[i] = records

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ReadResult{}, err
	}

	records := make([][]byte, 0, rng.Len())
	for _, w := range windows {
		records = append(records, w...)
	}

	return ReadResult{Range: reads.Range, Records: records}, nil
}

// fetch reads one window and splits it into records.
func (a *Agent) fetch(ctx context.Context, r BatchRead) ([][]byte, error) {
	length := r.ByteLen()

	data, err := a.storage.ReadRange(ctx, r.Segment, r.FileOffset, length)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}

	if int64(len(data)) != length {
		return nil, fmt.Errorf("%w: read %s@%d: got %d bytes, want %d",
			ErrStorageIO, r.Segment, r.FileOffset, len(data), length)
	}

	records := make([][]byte, len(r.RecordSizes))

	var off int
	for i, n := range r.RecordSizes {
		records[i] = data[off : off+n : off+n]
		off += n
	}

	return records, nil
}
