package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/calvinalkan/seglog/internal/config"
)

const helpFlag = "--help"

var (
	errFlagRequiresArg = errors.New("flag requires an argument")
	errUnknownFlag     = errors.New("unknown flag")
)

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the running command's context.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < 2 {
		printUsage(out, nil)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == helpFlag || flags.remaining[0] == "-h" {
		printUsage(out, nil)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		DataDirOverride: flags.dataDir,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				logger.Info("signal received, cancelling", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	app := &app{cfg: cfg, logger: logger, env: env}
	commands := app.commands()

	name := flags.remaining[0]

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(ctx, NewIO(stdin, out, errOut), flags.remaining[1:])
		}
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut, commands)

	return 1
}

type globalFlags struct {
	workDir    string
	configPath string
	dataDir    string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// parseFlag parses a global flag at args[idx] and returns how many args it
// consumed, 0 when args[idx] is the command.
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	valueFlags := []struct {
		short, long string
		dst         *string
	}{
		{"-C", "--cwd", &flags.workDir},
		{"-c", "--config", &flags.configPath},
		{"", "--data-dir", &flags.dataDir},
	}

	for _, f := range valueFlags {
		if arg == f.long || (f.short != "" && arg == f.short) {
			if idx+1 >= len(args) {
				return 0, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
			}

			*f.dst = args[idx+1]

			return 2, nil
		}

		if after, ok := strings.CutPrefix(arg, f.long+"="); ok {
			*f.dst = after

			return 1, nil
		}

		if f.short != "" && len(arg) > len(f.short) {
			if after, ok := strings.CutPrefix(arg, f.short); ok {
				*f.dst = after

				return 1, nil
			}
		}
	}

	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	if strings.HasPrefix(arg, "-") && arg != "-" {
		return 0, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	return 0, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands []*Command) {
	if commands == nil {
		commands = (&app{}).commands()
	}

	fprintln(w, `seglog - append-only topic/partition log

Usage: seglog [options] <command> [args]

Global flags:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
      --data-dir <dir>   Override data_dir

Commands:`)

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
