package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"feedpipe/cli/control"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Trigger a fetch of one source now",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "source name or id", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			name := strings.TrimSpace(ctx.String("name"))
			c := control.NewClient(configFrom(ctx).ControlAddr)
			trigger, err := c.Fetch(name)
			if err != nil {
				return fmt.Errorf("could not trigger fetch: %w", err)
			}
			fmt.Println(trigger.Message)
			return nil
		},
	}
}
