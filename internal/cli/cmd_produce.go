package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

var errNoRecords = errors.New("no records given")

// maxLineBytes bounds one stdin record.
const maxLineBytes = 16 << 20

// ProduceCmd returns the produce command.
func ProduceCmd(a *app) *Command {
	flags := flag.NewFlagSet("produce", flag.ContinueOnError)
	agentID := flags.String("agent", "cli", "Agent id recorded as the batch writer")

	return &Command{
		Flags: flags,
		Usage: "produce <topic> <partition> [records...]",
		Short: "Append records and flush them",
		Long: "Append each argument as one record, or each stdin line when no records are given,\n" +
			"then flush them as a single segment and print the assigned offsets.",
		Args: minArgs("<topic>", "<partition>"),
		Exec: func(ctx context.Context, io *IO, args []string) error {
			records, err := produceRecords(io, args[2:])
			if err != nil {
				return err
			}

			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			res, err := produce(ctx, log, *agentID, args[0], args[1], records)
			closeErr := closeLog()

			printFlush(io, res)

			return errors.Join(err, closeErr)
		},
	}
}

func produceRecords(io *IO, args []string) ([][]byte, error) {
	if len(args) > 0 {
		records := make([][]byte, len(args))
		for i, arg := range args {
			records[i] = []byte(arg)
		}

		return records, nil
	}

	if io.In() == nil {
		return nil, errNoRecords
	}

	var records [][]byte

	scanner := bufio.NewScanner(io.In())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		records = append(records, append([]byte(nil), scanner.Bytes()...))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}

	if len(records) == 0 {
		return nil, errNoRecords
	}

	return records, nil
}

func produce(ctx context.Context, log *seglog.Log, agentID, topic, partition string, records [][]byte) (seglog.FlushResult, error) {
	agent, err := log.NewAgent(agentID)
	if err != nil {
		return seglog.FlushResult{}, err
	}

	for _, rec := range records {
		if err := agent.Write(topic, partition, rec); err != nil {
			return seglog.FlushResult{}, err
		}
	}

	return agent.Flush(ctx)
}

func printFlush(io *IO, res seglog.FlushResult) {
	for _, e := range res.Entries {
		io.Printf("%s/%s offsets=%s segment=%s\n", e.Topic, e.Partition,
			seglog.OffsetRange{Start: e.BaseOffset, End: e.LastOffset()}, res.Segment)
	}
}
