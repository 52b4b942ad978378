package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedpipe/cli/control"
)

const maxWorkers = 64

func setWorkersCmd() *cli.Command {
	return &cli.Command{
		Name:  "set-workers",
		Usage: "Resize the worker pool of the running daemon",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Usage: "number of workers", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			count := ctx.Int("count")
			if count <= 0 || count > maxWorkers {
				return fmt.Errorf("number of workers should be between 1 and %d", maxWorkers)
			}

			c := control.NewClient(configFrom(ctx).ControlAddr)
			old, err := c.SetWorkers(count)
			if err != nil {
				return fmt.Errorf("could not set workers: %w", err)
			}
			fmt.Printf("Number of workers changed from %d to %d\n", old, count)
			return nil
		},
	}
}
