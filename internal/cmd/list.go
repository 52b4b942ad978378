package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List feed sources",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "num", Usage: "limit number of sources (0 = all)"},
		},
		Action: func(ctx *cli.Context) error {
			store, err := openStore(configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			sources, err := store.ListSources(ctx.Context, ctx.Int("num"))
			if err != nil {
				return fmt.Errorf("could not list sources: %w", err)
			}
			if len(sources) == 0 {
				fmt.Println("No sources available")
				return nil
			}

			fmt.Print("Feed sources\n\n")
			for i, s := range sources {
				fmt.Printf("%d. %s\n   URL: %s\n   Every: %s   Status: %s\n   Added: %s\n\n",
					i+1,
					s.Name,
					s.URL,
					s.FetchInterval,
					s.FetchStatus,
					s.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			return nil
		},
	}
}
