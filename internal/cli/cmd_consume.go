package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

// ConsumeCmd returns the consume command.
func ConsumeCmd(a *app) *Command {
	flags := flag.NewFlagSet("consume", flag.ContinueOnError)
	from := flags.Uint64("from", 1, "First offset to read")
	to := flags.Uint64("to", 0, "Last offset to read (0 means the partition's last offset)")
	asHex := flags.Bool("hex", false, "Print payloads hex encoded")

	return &Command{
		Flags: flags,
		Usage: "consume <topic> <partition> [flags]",
		Short: "Print records in an offset range",
		Long: "Print one line per record as <offset><TAB><payload> for the inclusive range\n" +
			"--from..--to. Ranges outside the committed offsets fail.",
		Args: exactArgs("<topic>", "<partition>"),
		Exec: func(ctx context.Context, io *IO, args []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			err = consume(ctx, io, log, args[0], args[1], *from, *to, *asHex)

			return errors.Join(err, closeLog())
		},
	}
}

func consume(ctx context.Context, io *IO, log *seglog.Log, topic, partition string, from, to uint64, asHex bool) error {
	if to == 0 {
		last, ok := log.Index().LastOffset(topic, partition)
		if !ok {
			return fmt.Errorf("%w: %s/%s", seglog.ErrUnknownTopicPartition, topic, partition)
		}

		to = last
	}

	agent, err := log.NewAgent("cli-consume")
	if err != nil {
		return err
	}

	res, err := agent.Read(ctx, topic, partition, seglog.OffsetRange{Start: from, End: to})
	if err != nil {
		return err
	}

	for i, rec := range res.Records {
		payload := string(rec)
		if asHex {
			payload = hex.EncodeToString(rec)
		}

		io.Printf("%d\t%s\n", res.Range.Start+uint64(i), payload)
	}

	return nil
}
