package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

// PartitionsCmd returns the partitions command.
func PartitionsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("partitions", flag.ContinueOnError),
		Usage: "partitions",
		Short: "List partitions with their offset ranges",
		Args:  noArgs,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			for _, p := range log.Index().Partitions() {
				io.Printf("%s/%s offsets=%s batches=%d bytes=%d\n", p.Topic, p.Partition,
					seglog.OffsetRange{Start: p.FirstOffset, End: p.LastOffset}, p.Batches, p.Bytes)
			}

			return closeLog()
		},
	}
}

// DescribeCmd returns the describe command.
func DescribeCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("describe", flag.ContinueOnError),
		Usage: "describe <topic> <partition>",
		Short: "List the batches of one partition",
		Long:  "Print one line per committed batch: its offsets and where its bytes live.",
		Args:  exactArgs("<topic>", "<partition>"),
		Exec: func(ctx context.Context, io *IO, args []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			entries, err := log.Index().Entries(args[0], args[1])
			if err != nil {
				return errors.Join(err, closeLog())
			}

			for _, e := range entries {
				io.Printf("offsets=%s segment=%s file_offset=%d records=%d bytes=%d writer=%s\n",
					seglog.OffsetRange{Start: e.BaseOffset, End: e.LastOffset()},
					e.Batch.Segment, e.Batch.FileOffset, e.Batch.Records(), e.Batch.ByteLen(), e.Writer)
			}

			return closeLog()
		},
	}
}

// SegmentsCmd returns the segments command.
func SegmentsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("segments", flag.ContinueOnError),
		Usage: "segments",
		Short: "List catalogued segment files",
		Args:  noArgs,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			segs, err := log.Segments(ctx)
			if err != nil {
				return errors.Join(err, closeLog())
			}

			for _, s := range segs {
				io.Printf("%s size=%d xxhash=%016x writer=%s created=%s\n",
					s.Name, s.Size, s.Checksum, s.Writer, s.Created.UTC().Format(time.RFC3339))
			}

			return closeLog()
		},
	}
}

// VerifyCmd returns the verify command.
func VerifyCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("verify", flag.ContinueOnError),
		Usage: "verify",
		Short: "Check segments against the catalog",
		Long: "Read every catalogued segment and check its size, its checksum and that every\n" +
			"batch lies inside it. Issues are printed and make the exit code 1.",
		Args: noArgs,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			report, err := log.Verify(ctx)
			if err != nil {
				return errors.Join(err, closeLog())
			}

			for _, issue := range report.Issues {
				io.Println(issue.String())
			}

			io.Printf("segments=%d entries=%d issues=%d\n", report.Segments, report.Entries, len(report.Issues))

			if !report.OK() {
				io.Warn(fmt.Sprintf("%d verify issue(s)", len(report.Issues)), "inspect the listed segments")
			}

			return closeLog()
		},
	}
}
