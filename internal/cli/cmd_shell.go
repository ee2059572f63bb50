package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

var errShellUsage = errors.New("usage")

var shellCommands = []string{"write", "flush", "read", "buffered", "partitions", "help", "quit"}

// ShellCmd returns the interactive shell command.
func ShellCmd(a *app) *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)
	agentID := flags.String("agent", "shell", "Agent id used by the session")

	return &Command{
		Flags: flags,
		Usage: "shell [--agent <id>]",
		Short: "Interactive session with one agent",
		Long: "Start a prompt bound to one agent. Writes stay buffered until flush, so\n" +
			"the effect of flushing on reads can be explored by hand. Type help for commands.",
		Args: noArgs,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			log, closeLog, err := a.openLog(ctx)
			if err != nil {
				return err
			}

			agent, err := log.NewAgent(*agentID)
			if err != nil {
				return errors.Join(err, closeLog())
			}

			sh := &shell{io: o, log: log, agent: agent}
			err = sh.loop(ctx, filepath.Join(log.DataDir(), seglog.MetaDirName, "shell_history"))

			if n := len(agent.Buffered()); n > 0 {
				o.Warn(fmt.Sprintf("%d partition(s) still buffered at exit", n), "run flush before quit to keep them")
			}

			return errors.Join(err, closeLog())
		},
	}
}

type shell struct {
	io    *IO
	log   *seglog.Log
	agent *seglog.Agent
}

func (s *shell) loop(ctx context.Context, historyPath string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(prefix)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for ctx.Err() == nil {
		input, err := line.Prompt("seglog> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		quit, err := s.exec(ctx, input)
		if err != nil {
			s.io.ErrPrintln("error:", err)
		}

		if quit {
			return nil
		}
	}

	return ctx.Err()
}

// exec runs one shell line. It reports whether the session should end.
func (s *shell) exec(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true, nil
	case "help":
		s.io.Println("write <topic> <partition> <payload...>   buffer one record")
		s.io.Println("flush                                    commit buffered records")
		s.io.Println("read <topic> <partition> <from> <to>     print committed records")
		s.io.Println("buffered                                 show unflushed partitions")
		s.io.Println("partitions                               show committed partitions")
		s.io.Println("quit                                     leave the shell")

		return false, nil
	case "write":
		if len(fields) < 4 {
			return false, fmt.Errorf("%w: write <topic> <partition> <payload...>", errShellUsage)
		}

		return false, s.agent.Write(fields[1], fields[2], []byte(afterFields(input, 3)))
	case "flush":
		res, err := s.agent.Flush(ctx)
		if err != nil {
			return false, err
		}

		if res.Segment == "" {
			s.io.Println("nothing to flush")

			return false, nil
		}

		printFlush(s.io, res)

		return false, nil
	case "read":
		if len(fields) != 5 {
			return false, fmt.Errorf("%w: read <topic> <partition> <from> <to>", errShellUsage)
		}

		from, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return false, fmt.Errorf("from: %w", err)
		}

		to, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return false, fmt.Errorf("to: %w", err)
		}

		res, err := s.agent.Read(ctx, fields[1], fields[2], seglog.OffsetRange{Start: from, End: to})
		if err != nil {
			return false, err
		}

		for i, rec := range res.Records {
			s.io.Printf("%d\t%s\n", res.Range.Start+uint64(i), rec)
		}

		return false, nil
	case "buffered":
		for _, b := range s.agent.Buffered() {
			s.io.Printf("%s/%s records=%d bytes=%d\n", b.Topic, b.Partition, b.Records, b.Bytes)
		}

		return false, nil
	case "partitions":
		for _, p := range s.log.Index().Partitions() {
			s.io.Printf("%s/%s offsets=%s\n", p.Topic, p.Partition,
				seglog.OffsetRange{Start: p.FirstOffset, End: p.LastOffset})
		}

		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

// afterFields returns input without its first n whitespace separated fields,
// keeping the inner spacing of the rest.
func afterFields(input string, n int) string {
	rest := input

	for range n {
		rest = strings.TrimLeft(rest, " \t")

		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			return ""
		}

		rest = rest[i:]
	}

	return strings.TrimSpace(rest)
}
