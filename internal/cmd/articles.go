package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"feedpipe/domain"
)

func articlesCmd() *cli.Command {
	return &cli.Command{
		Name:  "articles",
		Usage: "Show the latest entries of a source",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "feed-name", Usage: "source name", Required: true},
			&cli.IntFlag{Name: "num", Usage: "number of entries", Value: 3},
		},
		Action: func(ctx *cli.Context) error {
			name := strings.TrimSpace(ctx.String("feed-name"))
			store, err := openStore(configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			src, err := sourceByName(ctx.Context, store, name)
			if err != nil {
				return err
			}
			feed, err := store.GetFeedBySource(ctx.Context, src.ID)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Printf("Source %q has not been fetched yet\n", name)
				return nil
			}
			if err != nil {
				return err
			}

			entries, err := store.ListEntries(ctx.Context, feed.ID, ctx.Int("num"))
			if err != nil {
				return fmt.Errorf("could not fetch entries for %q: %w", name, err)
			}
			if len(entries) == 0 {
				fmt.Printf("No entries found for source %q\n", name)
				return nil
			}

			fmt.Printf("Entries from feed: %s\n\n", feed.Title)
			for i, e := range entries {
				mark := " "
				if e.Read {
					mark = "x"
				}
				date := "----------"
				if e.Published != nil {
					date = e.Published.Format("2006-01-02")
				}
				fmt.Printf("%d. [%s] [%s] %s\n   %s\n   id: %s\n\n", i+1, mark, date, e.Title, e.Link, e.ID)
			}
			return nil
		},
	}
}
