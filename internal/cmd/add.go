package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/urfave/cli/v2"

	"feedpipe/cli/control"
)

func addCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a feed source and fetch it once",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "source name", Required: true},
			&cli.StringFlag{Name: "url", Usage: "feed URL", Required: true},
			&cli.DurationFlag{Name: "interval", Usage: "fetch interval (default from config)"},
		},
		Action: func(ctx *cli.Context) error {
			name := strings.TrimSpace(ctx.String("name"))
			feedURL := strings.TrimSpace(ctx.String("url"))
			if name == "" || feedURL == "" {
				return fmt.Errorf("both --name and --url are required")
			}
			if _, err := url.ParseRequestURI(feedURL); err != nil {
				return fmt.Errorf("invalid feed URL: %w", err)
			}

			c := control.NewClient(configFrom(ctx).ControlAddr)
			src, err := c.AddSource(name, feedURL, ctx.Duration("interval"))
			if err != nil {
				return fmt.Errorf("could not add source: %w", err)
			}
			fmt.Printf("Source %q added successfully (%s, every %s)\n", src.Name, src.URL, src.Interval)
			return nil
		},
	}
}
