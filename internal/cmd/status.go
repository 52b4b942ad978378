package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"feedpipe/app"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the fetch status of a source",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "source name", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			name := strings.TrimSpace(ctx.String("name"))
			store, err := openStore(configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			src, err := sourceByName(ctx.Context, store, name)
			if err != nil {
				return err
			}
			report := app.StatusOf(src)
			fmt.Printf("%s: %s (%d), last update %s\n",
				src.Name, report.Label, report.Code, report.LastUpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
