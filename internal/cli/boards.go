package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/store"
)

func boardsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("boards", flag.ContinueOnError),
		Usage: "boards",
		Short: "List boards",
		Long:  "List every readable board with its id, title and last update. Unreadable board files are skipped.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			sums, err := s.ListBoardSummaries(ctx)
			if err != nil {
				return err
			}

			for _, sum := range sums {
				o.Printf("%s  %s  (updated %s)\n", sum.ID, sum.Title, humanize.Time(sum.UpdatedAt))
			}

			return nil
		},
	}
}

func showCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("show", flag.ContinueOnError),
		Usage: "show <board>",
		Short: "Show a board with its lanes and cards",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, "board id is required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			b, err := loadBoard(ctx, s, args[0])
			if err != nil {
				return err
			}

			printBoard(o, b)

			return nil
		},
	}
}

func createCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("create", flag.ContinueOnError),
		Usage: "create <title>",
		Short: "Create a board with the default lanes",
		Long:  "Create a board with the lanes Todo, In Progress and Done. Prints the new board id.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, "title is required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			b, err := s.CreateBoard(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			o.Println(b.ID)

			return nil
		},
	}
}

func renameCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rename", flag.ContinueOnError),
		Usage: "rename <board> <title>",
		Short: "Rename a board",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and title are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			title := strings.Join(args[1:], " ")

			b, err := s.UpdateBoard(ctx, args[0], store.BoardPatch{Title: &title})
			if err != nil {
				return err
			}

			o.Printf("renamed %s to %q\n", b.ID, b.Title)

			return nil
		},
	}
}

func deleteCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <board>",
		Short: "Delete a board",
		Long:  "Delete a board and all of its lanes and cards. The last remaining board cannot be deleted.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, "board id is required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			if err := s.DeleteBoard(ctx, args[0]); err != nil {
				return err
			}

			o.Println("deleted", args[0])

			return nil
		},
	}
}

func normalizeCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("normalize", flag.ContinueOnError),
		Usage: "normalize <board>",
		Short: "Renumber lane and card positions",
		Long:  "Renumber all lanes and cards of a board to 0, 1000, 2000, ... in their current order.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, "board id is required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			b, err := s.NormalizeBoard(ctx, args[0])
			if err != nil {
				return err
			}

			o.Printf("normalized %s (%d lanes)\n", b.ID, len(b.Lanes))

			return nil
		},
	}
}

func loadBoard(ctx context.Context, s *store.Store, id string) (board.Board, error) {
	b, ok, err := s.GetBoard(ctx, id)
	if err != nil {
		return board.Board{}, err
	}

	if !ok {
		return board.Board{}, fmt.Errorf("%w: %s", board.ErrBoardNotFound, id)
	}

	return b, nil
}

func printBoard(o *IO, b board.Board) {
	o.Printf("# %s\n", b.Title)
	o.Printf("id: %s, created %s, updated %s\n", b.ID, humanize.Time(b.CreatedAt), humanize.Time(b.UpdatedAt))

	if len(b.Tags) > 0 {
		o.Printf("tags: %s\n", tagNames(b.Tags))
	}

	lanes := append([]board.Lane(nil), b.Lanes...)
	board.SortLanes(lanes)

	for _, l := range lanes {
		o.Println()
		o.Printf("## %s [%s] pos=%d\n", l.Title, l.ID, l.Position)

		cards := append([]board.Card(nil), l.Cards...)
		board.SortCards(cards)

		for _, c := range cards {
			line := fmt.Sprintf("- %s [%s] pos=%d", c.Title, c.ID, c.Position)
			if len(c.Tags) > 0 {
				line += "  " + tagNames(c.Tags)
			}

			o.Println(line)

			if c.Description != "" {
				for _, dl := range strings.Split(c.Description, "\n") {
					o.Println("    " + dl)
				}
			}
		}
	}
}

func tagNames(tags []board.Tag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = "#" + t.Name
	}

	return strings.Join(names, " ")
}
