// Package cli implements the mdboard command line: board, lane and card
// commands over the storage engine plus maintenance commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mdboard/internal/config"
	"github.com/calvinalkan/mdboard/internal/lockfile"
	"github.com/calvinalkan/mdboard/internal/store"
)

// app is shared by all commands of one invocation. The store is opened on
// first use so print-config and help work without a data directory.
type app struct {
	cfg      config.Config
	in       io.Reader
	logger   *log.Logger
	registry *prometheus.Registry

	store *store.Store
	redis *redis.Client
}

func (a *app) open(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	scfg := store.Config{
		DataDir:              a.cfg.DataDirAbs,
		CacheTTL:             a.cfg.CacheTTL.D(),
		CacheCleanupInterval: a.cfg.CacheCleanupInterval.D(),
		Lock: lockfile.Options{
			MaxRetries: a.cfg.Lock.MaxRetries,
			RetryDelay: a.cfg.Lock.RetryDelay.D(),
			Timeout:    a.cfg.Lock.Timeout.D(),
		},
		LockStaleAfter: a.cfg.Lock.StaleAfter.D(),
		RedisPrefix:    a.cfg.Redis.Prefix,
		Watch:          a.cfg.Watch,
		Logger:         a.logger,
		Registerer:     a.registry,
	}

	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr})
		scfg.Redis = a.redis
	}

	s, err := store.Open(ctx, scfg)
	if err != nil {
		return nil, err
	}

	a.store = s

	return s, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Error("close storage")
		}
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// commands returns every top-level command.
func (a *app) commands() []*Command {
	return []*Command{
		boardsCmd(a),
		showCmd(a),
		createCmd(a),
		renameCmd(a),
		deleteCmd(a),
		Group("lane", "Add, rename, remove and order lanes",
			laneAddCmd(a), laneRenameCmd(a), laneRmCmd(a), laneOrderCmd(a)),
		Group("card", "Add, edit, remove, move and order cards",
			cardAddCmd(a), cardEditCmd(a), cardRmCmd(a), cardMvCmd(a), cardOrderCmd(a)),
		normalizeCmd(a),
		migrateCmd(a),
		locksCmd(a),
		statsCmd(a),
		printConfigCmd(a),
		shellCmd(a),
	}
}

func findCommand(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

type globalFlags struct {
	workDir    string
	configPath string
	dataDir    string
	help       bool
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var g globalFlags

	fs := flag.NewFlagSet("mdboard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	fs.StringVarP(&g.configPath, "config", "c", "", "Use the specified config `file`")
	fs.StringVar(&g.dataDir, "data-dir", "", "Override the data `dir`")
	fs.BoolVarP(&g.help, "help", "h", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return globalFlags{}, nil, err
	}

	return g, fs.Args(), nil
}

// Run is the main entry point. Returns exit code.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < 2 {
		printUsage(out, (&app{}).commands())

		return 0
	}

	flags, rest, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := config.Load(config.Input{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		DataDirOverride: flags.dataDir,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger := log.New()
	logger.SetOutput(errOut)
	logger.SetLevel(cfg.Level())

	a := &app{
		cfg:      cfg,
		in:       stdin,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer a.close()

	cmds := a.commands()

	if flags.help || len(rest) == 0 {
		printUsage(out, cmds)

		return 0
	}

	cmd := findCommand(cmds, rest[0])
	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, cmds)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

// runLine runs one shell line against the already configured app.
func (a *app) runLine(ctx context.Context, o *IO, line string) error {
	fields := splitLine(line)
	if len(fields) == 0 {
		return nil
	}

	cmd := findCommand(a.commands(), fields[0])
	if cmd == nil || cmd.Name() == "shell" {
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", fields[0])
	}

	return cmd.exec(ctx, o, fields[1:])
}

// splitLine splits on whitespace. Double quotes group words.
func splitLine(line string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		inWord bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case (r == ' ' || r == '\t') && !quoted:
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if inWord {
		out = append(out, cur.String())
	}

	return out
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, cmds []*Command) {
	fprintln(w, `mdboard - kanban boards stored as markdown files

Usage: mdboard [options] <command> [args]

Options:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
      --data-dir <dir>   Override the data directory

Commands:`)

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}
}
