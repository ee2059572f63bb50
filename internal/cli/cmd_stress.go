package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

var (
	errStressArgs  = errors.New("--agents, --rounds, --records and --partitions must be positive")
	errStressCheck = errors.New("stress check failed")
)

type stressOptions struct {
	topic      string
	agents     int
	rounds     int
	records    int
	partitions int
}

// StressCmd returns the stress command.
func StressCmd(a *app) *Command {
	flags := flag.NewFlagSet("stress", flag.ContinueOnError)

	var opts stressOptions

	flags.StringVar(&opts.topic, "topic", "stress", "Topic to write to")
	flags.IntVar(&opts.agents, "agents", 4, "Concurrent agents")
	flags.IntVar(&opts.rounds, "rounds", 10, "Flushes per agent")
	flags.IntVar(&opts.records, "records", 8, "Records per partition per round")
	flags.IntVar(&opts.partitions, "partitions", 3, "Partitions to spread records over")

	return &Command{
		Flags: flags,
		Usage: "stress [flags]",
		Short: "Run concurrent agents and check offset contiguity",
		Long: "Run --agents agents that each write and flush --rounds times, then check that\n" +
			"every partition's batches are contiguous and every record reads back.",
		Args: noArgs,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			if opts.agents <= 0 || opts.rounds <= 0 || opts.records <= 0 || opts.partitions <= 0 {
				return errStressArgs
			}

			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			err = stress(ctx, io, log, opts)

			return errors.Join(err, closeLog())
		},
	}
}

func stress(ctx context.Context, io *IO, log *seglog.Log, opts stressOptions) error {
	partitions := make([]string, opts.partitions)
	before := make(map[string]uint64, opts.partitions)

	for i := range partitions {
		partitions[i] = strconv.Itoa(i)
		before[partitions[i]], _ = log.Index().LastOffset(opts.topic, partitions[i])
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	for n := range opts.agents {
		agent, err := log.NewAgent(fmt.Sprintf("stress-%d", n))
		if err != nil {
			return err
		}

		g.Go(func() error {
			for round := range opts.rounds {
				for _, p := range partitions {
					for i := range opts.records {
						payload := fmt.Appendf(nil, "%s:%d:%d", agent.ID(), round, i)
						if err := agent.Write(opts.topic, p, payload); err != nil {
							return err
						}
					}
				}

				if _, err := agent.Flush(gctx); err != nil {
					return err
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	perPartition := uint64(opts.agents * opts.rounds * opts.records)

	checker, err := log.NewAgent("stress-check")
	if err != nil {
		return err
	}

	for _, p := range partitions {
		if err := checkContiguous(ctx, log, checker, opts.topic, p, before[p], perPartition); err != nil {
			return err
		}
	}

	total := perPartition * uint64(opts.partitions)
	io.Printf("agents=%d flushes=%d records=%d elapsed=%s\n",
		opts.agents, opts.agents*opts.rounds, total, elapsed.Round(time.Millisecond))

	return nil
}

// checkContiguous verifies that the batches written after prevLast start at
// prevLast+1, leave no gaps and hold want records that all read back.
func checkContiguous(ctx context.Context, log *seglog.Log, reader *seglog.Agent, topic, partition string, prevLast, want uint64) error {
	entries, err := log.Index().Entries(topic, partition)
	if err != nil {
		return err
	}

	next := prevLast + 1

	for _, e := range entries {
		if e.BaseOffset <= prevLast {
			continue
		}

		if e.BaseOffset != next {
			return fmt.Errorf("%w: %s/%s batch at %d, want %d", errStressCheck, topic, partition, e.BaseOffset, next)
		}

		next = e.LastOffset() + 1
	}

	if got := next - prevLast - 1; got != want {
		return fmt.Errorf("%w: %s/%s has %d new records, want %d", errStressCheck, topic, partition, got, want)
	}

	res, err := reader.Read(ctx, topic, partition, seglog.OffsetRange{Start: prevLast + 1, End: next - 1})
	if err != nil {
		return err
	}

	if uint64(len(res.Records)) != want {
		return fmt.Errorf("%w: %s/%s read %d records, want %d", errStressCheck, topic, partition, len(res.Records), want)
	}

	return nil
}
