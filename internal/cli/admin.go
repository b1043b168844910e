package cli

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mdboard/internal/config"
)

func migrateCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("migrate", flag.ContinueOnError),
		Usage: "migrate",
		Short: "Convert a legacy db.json into board files",
		Long: "Convert a legacy db.json in the data directory into one markdown file per board. " +
			"Runs automatically on first start; running it again is a no-op.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			res, err := s.Migrate(ctx)
			if err != nil {
				return err
			}

			if !res.Ran {
				o.Println("nothing to migrate")

				return nil
			}

			o.Printf("migrated %d boards\n", res.Boards)

			if res.Skipped > 0 {
				o.Warn("skipped %d legacy boards without id or title", res.Skipped)
			}

			return nil
		},
	}
}

func locksCmd(a *app) *Command {
	fs := flag.NewFlagSet("locks", flag.ContinueOnError)
	cleanup := fs.Bool("cleanup", false, "Remove abandoned lock markers")

	return &Command{
		Flags: fs,
		Usage: "locks [--cleanup]",
		Short: "List lock markers",
		Long: "List the lock markers in the data directory. With --cleanup, markers whose holder " +
			"is gone or whose lease expired are removed.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			locks := s.Locks()

			if *cleanup {
				n, err := locks.CleanupStale()
				if err != nil {
					return err
				}

				o.Printf("removed %d stale %s\n", n, plural(n, "lock", "locks"))

				return nil
			}

			infos, err := locks.List()
			if err != nil {
				return err
			}

			if len(infos) == 0 {
				o.Println("no locks held")

				return nil
			}

			for _, info := range infos {
				if !info.Valid {
					o.Printf("%s  unreadable, modified %s\n", info.Name, humanize.Time(info.ModTime))
					o.Warn("unreadable lock marker %s: run 'mdboard locks --cleanup' once it is older than %s",
						info.Name, a.cfg.Lock.StaleAfter)

					continue
				}

				m := info.Marker
				o.Printf("%s  pid=%d host=%s acquired %s, expires %s\n",
					info.Name, m.PID, m.Host, humanize.Time(m.AcquiredAt), humanize.Time(m.ExpiresAt))
			}

			return nil
		},
	}
}

func statsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Show cache contents and storage counters",
		Long:  "Show the in-process cache and the counters collected by this process. Most useful inside 'mdboard shell'.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			st := s.CacheStats()
			o.Printf("cache: %d %s, ttl %s\n", st.Size, plural(st.Size, "entry", "entries"), st.TTL)

			for _, k := range st.Keys {
				o.Println("  " + k)
			}

			families, err := a.registry.Gather()
			if err != nil {
				return err
			}

			var lines []string

			for _, mf := range families {
				for _, m := range mf.GetMetric() {
					var labels []string
					for _, lp := range m.GetLabel() {
						labels = append(labels, lp.GetName()+"="+lp.GetValue())
					}

					name := mf.GetName()
					if len(labels) > 0 {
						name += "{" + strings.Join(labels, ",") + "}"
					}

					switch {
					case m.GetCounter() != nil:
						lines = append(lines, name+" "+humanize.Ftoa(m.GetCounter().GetValue()))
					case m.GetHistogram() != nil:
						h := m.GetHistogram()
						avg := time.Duration(0)

						if h.GetSampleCount() > 0 {
							avg = time.Duration(h.GetSampleSum() / float64(h.GetSampleCount()) * float64(time.Second))
						}

						lines = append(lines, name+" count="+humanize.Comma(int64(h.GetSampleCount()))+" avg="+avg.String())
					}
				}
			}

			sort.Strings(lines)

			for _, l := range lines {
				o.Println(l)
			}

			return nil
		},
	}
}

func printConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			formatted, err := config.Format(a.cfg)
			if err != nil {
				return err
			}

			o.Println(formatted)
			o.Println()
			o.Println("# effective_cwd=" + a.cfg.EffectiveCwd)
			o.Println("# data_dir=" + a.cfg.DataDirAbs)
			o.Println("# sources:")

			src := a.cfg.Sources
			if src.Global != "" {
				o.Println("#   global: " + src.Global)
			}

			if src.Project != "" {
				o.Println("#   project: " + src.Project)
			}

			if src.Env {
				o.Println("#   env: " + config.EnvDataDir)
			}

			if src.Global == "" && src.Project == "" && !src.Env {
				o.Println("#   (defaults only)")
			}

			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}
