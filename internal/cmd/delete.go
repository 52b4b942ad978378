package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"feedpipe/cli/control"
)

func deleteCmd() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a source with its feed, entries and schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "source name or id", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			name := strings.TrimSpace(ctx.String("name"))
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			c := control.NewClient(configFrom(ctx).ControlAddr)
			if err := c.DeleteSource(name); err != nil {
				return fmt.Errorf("could not delete source %q: %w", name, err)
			}
			fmt.Printf("Source %q deleted successfully\n", name)
			return nil
		},
	}
}
