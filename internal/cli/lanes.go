package cli

import (
	"context"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mdboard/internal/store"
)

func laneAddCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("lane add", flag.ContinueOnError),
		Usage: "lane add <board> <title>",
		Short: "Append a lane to a board",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and title are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			lane, err := s.CreateLane(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			o.Println(lane.ID)

			return nil
		},
	}
}

func laneRenameCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("lane rename", flag.ContinueOnError),
		Usage: "lane rename <board> <lane> <title>",
		Short: "Rename a lane",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 3, "board id, lane id and title are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			title := strings.Join(args[2:], " ")

			lane, err := s.UpdateLane(ctx, args[0], args[1], store.LanePatch{Title: &title})
			if err != nil {
				return err
			}

			o.Printf("renamed %s to %q\n", lane.ID, lane.Title)

			return nil
		},
	}
}

func laneRmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("lane rm", flag.ContinueOnError),
		Usage: "lane rm <board> <lane>",
		Short: "Remove a lane and its cards",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and lane id are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			if err := s.DeleteLane(ctx, args[0], args[1]); err != nil {
				return err
			}

			o.Println("deleted", args[1])

			return nil
		},
	}
}

func laneOrderCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("lane order", flag.ContinueOnError),
		Usage: "lane order <board> <lane>...",
		Short: "Reorder all lanes of a board",
		Long:  "Put the lanes of a board in the given order. Every lane must be listed exactly once.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, "board id is required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			b, err := s.ReorderLanes(ctx, args[0], args[1:])
			if err != nil {
				return err
			}

			for _, l := range b.Lanes {
				o.Printf("%s %s\n", l.ID, l.Title)
			}

			return nil
		},
	}
}
