package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"feedpipe/domain"
)

func readCmd() *cli.Command {
	return markCmd("read", "Mark an entry as read", true)
}

func unreadCmd() *cli.Command {
	return markCmd("unread", "Mark an entry as unread", false)
}

func markCmd(name, usage string, read bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "ENTRY_ID",
		Action: func(ctx *cli.Context) error {
			id := ctx.Args().First()
			if id == "" {
				return fmt.Errorf("usage: feedpipe %s ENTRY_ID", name)
			}
			store, err := openStore(configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			changed, err := store.SetEntryRead(ctx.Context, id, read)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("entry %q not found", id)
			}
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("Entry already marked as %s\n", name)
				return nil
			}
			fmt.Printf("Entry marked as %s\n", name)
			return nil
		},
	}
}
