package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedpipe/cli/control"
)

func setIntervalCmd() *cli.Command {
	return &cli.Command{
		Name:  "set-interval",
		Usage: "Change how often a source is fetched",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "source name or id", Required: true},
			&cli.DurationFlag{Name: "duration", Usage: "fetch interval (e.g. 30m)", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			d := ctx.Duration("duration")
			if d <= 0 {
				return fmt.Errorf("usage: feedpipe set-interval --name NAME --duration 30m")
			}

			c := control.NewClient(configFrom(ctx).ControlAddr)
			old, err := c.SetInterval(ctx.String("name"), d)
			if err != nil {
				return fmt.Errorf("could not set interval: %w", err)
			}
			if old == d {
				fmt.Printf("Interval is already set to %s (no change)\n", d.String())
				return nil
			}
			fmt.Printf("Interval of fetching %q changed from %s to %s\n", ctx.String("name"), old.String(), d.String())
			return nil
		},
	}
}
