package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

const historyFile = ".mdboard_history"

func shellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt running mdboard commands",
		Long: "Start an interactive prompt. Every mdboard command can be typed without the " +
			"\"mdboard\" prefix; the storage stays open between commands. Type 'exit' to leave.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if _, err := a.open(ctx); err != nil {
				return err
			}

			if f, ok := a.in.(*os.File); ok && isTerminal(f) {
				return a.interactiveShell(ctx, o)
			}

			return a.scriptShell(ctx, o)
		},
	}
}

// isTerminal reports whether f is a tty. Character devices such as
// /dev/null fail the termios query.
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), ioctlReadTermios)

	return err == nil
}

// shellLine runs one line. quit is true for exit commands.
func (a *app) shellLine(ctx context.Context, o *IO, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}

	switch line {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		printUsage(o.errOut, a.commands())

		return false
	}

	if err := a.runLine(ctx, o, line); err != nil {
		o.ErrPrintln("error:", err)
	}

	o.Finish()

	return false
}

// scriptShell reads commands from a non-terminal input, one per line.
func (a *app) scriptShell(ctx context.Context, o *IO) error {
	if a.in == nil {
		return nil
	}

	sc := bufio.NewScanner(a.in)

	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if a.shellLine(ctx, o, sc.Text()) {
			return nil
		}
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

func (a *app) interactiveShell(ctx context.Context, o *IO) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(a.complete)

	histPath := filepath.Join(a.cfg.DataDirAbs, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		f, err := os.Create(histPath)
		if err != nil {
			a.logger.WithError(err).Warn("save shell history")

			return
		}

		_, _ = line.WriteHistory(f)
		_ = f.Close()
	}()

	o.Println("mdboard shell, data in " + a.cfg.DataDirAbs)
	o.Println("Type 'help' for commands, 'exit' to leave.")

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("mdboard> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println()

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if a.shellLine(ctx, o, input) {
			return nil
		}
	}
}

// complete completes command names, and subcommand names for groups.
func (a *app) complete(input string) []string {
	var out []string

	for _, c := range a.commands() {
		if strings.HasPrefix(c.Name(), input) {
			out = append(out, c.Name())
		}

		for _, sub := range c.subs {
			full := c.Name() + " " + sub.subName()
			if strings.HasPrefix(full, input) && strings.Contains(input, " ") {
				out = append(out, full)
			}
		}
	}

	return out
}
