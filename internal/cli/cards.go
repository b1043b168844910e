package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/store"
)

// defaultTagColor is used for --tag values without a color.
const defaultTagColor = "#6b7280"

// parseTags turns "name" or "name=#color" values into tags with fresh ids.
func parseTags(values []string) ([]board.Tag, error) {
	if len(values) == 0 {
		return nil, nil
	}

	tags := make([]board.Tag, 0, len(values))

	for _, v := range values {
		name, color, ok := strings.Cut(v, "=")
		if !ok || color == "" {
			color = defaultTagColor
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty tag name in %q", errUsage, v)
		}

		id, err := board.NewTagID()
		if err != nil {
			return nil, err
		}

		tags = append(tags, board.Tag{ID: id, Name: name, Color: color})
	}

	return tags, nil
}

func cardAddCmd(a *app) *Command {
	fs := flag.NewFlagSet("card add", flag.ContinueOnError)
	desc := fs.StringP("description", "d", "", "Card description")
	tags := fs.StringArray("tag", nil, "Tag as `name` or name=#color (repeatable)")

	return &Command{
		Flags: fs,
		Usage: "card add <board> <lane> <title> [flags]",
		Short: "Append a card to a lane",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 3, "board id, lane id and title are required"); err != nil {
				return err
			}

			parsed, err := parseTags(*tags)
			if err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			card, err := s.CreateCard(ctx, args[0], args[1], store.CardInput{
				Title:       strings.Join(args[2:], " "),
				Description: *desc,
				Tags:        parsed,
			})
			if err != nil {
				return err
			}

			o.Println(card.ID)

			return nil
		},
	}
}

func cardEditCmd(a *app) *Command {
	fs := flag.NewFlagSet("card edit", flag.ContinueOnError)
	title := fs.StringP("title", "t", "", "New title")
	desc := fs.StringP("description", "d", "", "New description")
	tags := fs.StringArray("tag", nil, "Replace tags; `name` or name=#color (repeatable)")
	clearTags := fs.Bool("clear-tags", false, "Remove all tags")

	return &Command{
		Flags: fs,
		Usage: "card edit <board> <card> [flags]",
		Short: "Edit a card's title, description or tags",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and card id are required"); err != nil {
				return err
			}

			var patch store.CardPatch

			if fs.Changed("title") {
				patch.Title = title
			}

			if fs.Changed("description") {
				patch.Description = desc
			}

			switch {
			case *clearTags:
				empty := []board.Tag{}
				patch.Tags = &empty
			case fs.Changed("tag"):
				parsed, err := parseTags(*tags)
				if err != nil {
					return err
				}

				patch.Tags = &parsed
			}

			if patch.Title == nil && patch.Description == nil && patch.Tags == nil {
				return fmt.Errorf("%w: nothing to change", errUsage)
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			card, err := s.UpdateCard(ctx, args[0], args[1], patch)
			if err != nil {
				return err
			}

			o.Printf("updated %s %q\n", card.ID, card.Title)

			return nil
		},
	}
}

func cardRmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("card rm", flag.ContinueOnError),
		Usage: "card rm <board> <card>",
		Short: "Remove a card",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and card id are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			if err := s.DeleteCard(ctx, args[0], args[1]); err != nil {
				return err
			}

			o.Println("deleted", args[1])

			return nil
		},
	}
}

func cardMvCmd(a *app) *Command {
	fs := flag.NewFlagSet("card mv", flag.ContinueOnError)
	position := fs.IntP("position", "p", 0, "Position in the target lane (default: after the last card)")

	return &Command{
		Flags: fs,
		Usage: "card mv <board> <card> <lane> [flags]",
		Short: "Move a card to a lane",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 3, "board id, card id and target lane id are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			pos := *position

			if !fs.Changed("position") {
				b, err := loadBoard(ctx, s, args[0])
				if err != nil {
					return err
				}

				if i := b.LaneIndex(args[2]); i >= 0 {
					pos = len(b.Lanes[i].Cards)
				}
			}

			card, err := s.MoveCard(ctx, args[0], args[1], args[2], pos)
			if err != nil {
				return err
			}

			o.Printf("moved %s to %s pos=%d\n", card.ID, card.LaneID, card.Position)

			return nil
		},
	}
}

func cardOrderCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("card order", flag.ContinueOnError),
		Usage: "card order <board> <lane> <card>...",
		Short: "Reorder all cards of a lane",
		Long:  "Put the cards of a lane in the given order. Every card of the lane must be listed exactly once.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, "board id and lane id are required"); err != nil {
				return err
			}

			s, err := a.open(ctx)
			if err != nil {
				return err
			}

			lane, err := s.ReorderCards(ctx, args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			for _, c := range lane.Cards {
				o.Printf("%s %s\n", c.ID, c.Title)
			}

			return nil
		},
	}
}
