package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// errUsage marks errors caused by wrong arguments. The command help is
// printed after the error.
var errUsage = errors.New("usage")

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "mdboard" in help.
	// Includes the command name and arguments/flags.
	// Examples: "show <board>", "card add <board> <lane> <title> [flags]"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error

	// subs are the subcommands of a group; see [Group].
	subs []*Command
}

// Name returns the command name: the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// subName is the second word of Usage, the name within a group.
func (c *Command) subName() string {
	fields := strings.Fields(c.Usage)
	if len(fields) < 2 {
		return ""
	}

	return fields[1]
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "mdboard <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.ErrPrintln("Usage: mdboard", c.Usage)
	o.ErrPrintln()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.ErrPrintln(desc)

	if len(c.subs) > 0 {
		o.ErrPrintln()
		o.ErrPrintln("Commands:")

		for _, sub := range c.subs {
			o.ErrPrintln(sub.HelpLine())
		}
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		o.ErrPrintln()
		o.ErrPrintln("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.ErrPrintf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	if err := c.exec(ctx, o, args); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

func (c *Command) exec(ctx context.Context, o *IO, args []string) error {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return nil
		}

		c.PrintHelp(o)

		return err
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if errors.Is(err, errUsage) {
		c.PrintHelp(o)
	}

	return err
}

// Group returns a command that dispatches to subs by their second Usage
// word, so "lane add ..." runs the sub with Usage "lane add ...".
func Group(name, short string, subs ...*Command) *Command {
	g := &Command{
		Flags: flag.NewFlagSet(name, flag.ContinueOnError),
		Usage: name + " <command>",
		Short: short,
		subs:  subs,
	}

	// Flags after the subcommand name belong to the subcommand.
	g.Flags.SetInterspersed(false)

	g.Exec = func(ctx context.Context, o *IO, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: %s requires a subcommand", errUsage, name)
		}

		for _, sub := range subs {
			if sub.subName() == args[0] {
				return sub.exec(ctx, o, args[1:])
			}
		}

		return fmt.Errorf("%w: unknown %s command: %s", errUsage, name, args[0])
	}

	return g
}

// requireArgs fails with a usage error unless args has at least n entries.
func requireArgs(args []string, n int, what string) error {
	if len(args) < n {
		return fmt.Errorf("%w: %s", errUsage, what)
	}

	return nil
}
