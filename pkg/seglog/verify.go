package seglog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/calvinalkan/seglog/pkg/segment"
)

// IssueKind classifies a [VerifyIssue].
type IssueKind string

const (
	// IssueMissingSegment: a catalogued segment is gone from storage.
	IssueMissingSegment IssueKind = "missing_segment"
	// IssueSizeMismatch: stored size differs from the catalog.
	IssueSizeMismatch IssueKind = "size_mismatch"
	// IssueChecksumMismatch: stored bytes differ from the catalog.
	IssueChecksumMismatch IssueKind = "checksum_mismatch"
	// IssueBatchOutOfBounds: an index entry extends past its segment.
	IssueBatchOutOfBounds IssueKind = "batch_out_of_bounds"
	// IssueUncataloged: an index entry names a segment the catalog lacks.
	IssueUncataloged IssueKind = "uncataloged_segment"
	// IssueOrphanSegment: a catalogued segment no entry references, left by
	// a failed flush.
	IssueOrphanSegment IssueKind = "orphan_segment"
	// IssueUnknownSegment: storage holds a segment the catalog lacks.
	IssueUnknownSegment IssueKind = "unknown_segment"
)

// VerifyIssue is one finding of [Log.Verify].
type VerifyIssue struct {
	Kind       IssueKind
	Segment    string
	Topic      string
	Partition  string
	BaseOffset uint64
	Detail     string
}

func (i VerifyIssue) String() string {
	var b strings.Builder

	b.WriteString(string(i.Kind))
	b.WriteString(" segment=")
	b.WriteString(i.Segment)

	if i.Topic != "" {
		fmt.Fprintf(&b, " topic=%s partition=%s base_offset=%d", i.Topic, i.Partition, i.BaseOffset)
	}

	if i.Detail != "" {
		b.WriteString(": ")
		b.WriteString(i.Detail)
	}

	return b.String()
}

// VerifyReport is the result of [Log.Verify].
type VerifyReport struct {
	Segments int
	Entries  int
	Issues   []VerifyIssue
}

// OK reports whether no issues were found.
func (r VerifyReport) OK() bool { return len(r.Issues) == 0 }

// Verify cross-checks the catalog, the index and the storage. Every
// catalogued segment is read in full. Storage errors other than a missing
// segment abort the run.
func (l *Log) Verify(ctx context.Context) (VerifyReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return VerifyReport{}, ErrClosed
	}

	segs, err := l.catalog.Segments(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}

	entries := l.index.AllEntries()
	report := VerifyReport{Segments: len(segs), Entries: len(entries)}

	sizes := make(map[string]int64, len(segs))
	for _, s := range segs {
		sizes[s.Name] = s.Size
	}

	referenced := make(map[string]bool)

	for _, e := range entries {
		referenced[e.Batch.Segment] = true

		size, ok := sizes[e.Batch.Segment]
		if !ok {
			report.Issues = append(report.Issues, entryIssue(IssueUncataloged, e, ""))

			continue
		}

		if end := e.Batch.FileOffset + e.Batch.ByteLen(); end > size {
			report.Issues = append(report.Issues, entryIssue(IssueBatchOutOfBounds, e,
				fmt.Sprintf("batch ends at %d, segment has %d bytes", end, size)))
		}
	}

	for _, s := range segs {
		issue, err := l.verifySegment(ctx, s)
		if err != nil {
			return VerifyReport{}, fmt.Errorf("verify: %w", err)
		}

		if issue != nil {
			report.Issues = append(report.Issues, *issue)
		}

		if !referenced[s.Name] {
			report.Issues = append(report.Issues, VerifyIssue{
				Kind:    IssueOrphanSegment,
				Segment: s.Name,
				Detail:  "written by " + s.Writer,
			})
		}
	}

	stored, err := segment.List(ctx, l.base)
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}

	for _, info := range stored {
		if _, ok := sizes[info.Name]; !ok {
			report.Issues = append(report.Issues, VerifyIssue{
				Kind:    IssueUnknownSegment,
				Segment: info.Name,
				Detail:  fmt.Sprintf("%d bytes", info.Size),
			})
		}
	}

	slices.SortStableFunc(report.Issues, func(a, b VerifyIssue) int {
		if c := strings.Compare(a.Segment, b.Segment); c != 0 {
			return c
		}

		return strings.Compare(string(a.Kind), string(b.Kind))
	})

	l.logger.Info("verify finished",
		"segments", report.Segments,
		"entries", report.Entries,
		"issues", len(report.Issues),
	)

	return report, nil
}

func (l *Log) verifySegment(ctx context.Context, rec SegmentRecord) (*VerifyIssue, error) {
	data, err := segment.ReadAll(ctx, l.base, rec.Name)
	if errors.Is(err, errors.ErrUnsupported) {
		data, err = l.base.ReadRange(ctx, rec.Name, 0, rec.Size)
		if errors.Is(err, segment.ErrShortRead) {
			return &VerifyIssue{Kind: IssueSizeMismatch, Segment: rec.Name, Detail: "shorter than catalogued"}, nil
		}
	}

	if errors.Is(err, segment.ErrNotFound) {
		return &VerifyIssue{Kind: IssueMissingSegment, Segment: rec.Name}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}

	if int64(len(data)) != rec.Size {
		return &VerifyIssue{
			Kind:    IssueSizeMismatch,
			Segment: rec.Name,
			Detail:  fmt.Sprintf("stored %d bytes, catalogued %d", len(data), rec.Size),
		}, nil
	}

	if sum := xxhash.Sum64(data); sum != rec.Checksum {
		return &VerifyIssue{
			Kind:    IssueChecksumMismatch,
			Segment: rec.Name,
			Detail:  fmt.Sprintf("xxhash %016x, catalogued %016x", sum, rec.Checksum),
		}, nil
	}

	return nil, nil
}

func entryIssue(kind IssueKind, e IndexEntry, detail string) VerifyIssue {
	return VerifyIssue{
		Kind:       kind,
		Segment:    e.Batch.Segment,
		Topic:      e.Topic,
		Partition:  e.Partition,
		BaseOffset: e.BaseOffset,
		Detail:     detail,
	}
}
