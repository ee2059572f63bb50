package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one seglog subcommand.
type Command struct {
	// Flags holds command flags. The FlagSet name is unused; the command
	// name comes from Usage.
	Flags *flag.FlagSet

	// Usage follows "seglog" in help, starting with the command name.
	// Example: "describe <topic> <partition>".
	Usage string

	// Short is the one-line description in the command listing.
	Short string

	// Long is shown by "seglog <cmd> --help". Short is used when empty.
	Long string

	// Args validates positional arguments before Exec. Nil accepts any.
	Args func(args []string) error

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the command's entry in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-42s %s", c.Usage, c.Short)
}

// PrintHelp prints usage, description and flags.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: seglog", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		var buf strings.Builder

		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()

		o.Println()
		o.Println("Flags:")
		o.Printf("%s", buf.String())
	}
}

// Run parses flags, validates arguments and executes the command. Errors
// are printed here so their order relative to output stays stable. Returns
// the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln("usage: seglog", c.Usage)

		return 1
	}

	pos := c.Flags.Args()

	if c.Args != nil {
		if err := c.Args(pos); err != nil {
			o.ErrPrintln("error:", err)
			o.ErrPrintln("usage: seglog", c.Usage)

			return 1
		}
	}

	if err := c.Exec(ctx, o, pos); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

var errArgs = errors.New("wrong arguments")

// exactArgs accepts exactly len(names) arguments.
func exactArgs(names ...string) func([]string) error {
	return func(args []string) error {
		if len(args) != len(names) {
			return fmt.Errorf("%w: requires %s, got %d argument(s)", errArgs, strings.Join(names, " "), len(args))
		}

		return nil
	}
}

// minArgs accepts len(names) or more arguments.
func minArgs(names ...string) func([]string) error {
	return func(args []string) error {
		if len(args) < len(names) {
			return fmt.Errorf("%w: requires %s, got %d argument(s)", errArgs, strings.Join(names, " "), len(args))
		}

		return nil
	}
}

// noArgs rejects positional arguments.
func noArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: unexpected %q", errArgs, args[0])
	}

	return nil
}
