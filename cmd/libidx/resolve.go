package main

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/registry"

	"github.com/urfave/cli/v2"
)

var resolveCmd = &cli.Command{
	Name:      "resolve",
	Usage:     "print the latest root published under a request key",
	ArgsUsage: `<request-key>`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "insert-key",
			Usage: "derive the request key from this insert key instead",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		key := cctx.Args().First()
		if ik := cctx.String("insert-key"); ik != "" {
			key = registry.RequestKey(ik)
		}
		if key == "" {
			return fmt.Errorf("request key arg is required")
		}

		reg, err := openRegistry(cctx)
		if err != nil {
			return err
		}
		if reg == nil {
			return errNoDatabase
		}

		root, edition, err := reg.Resolve(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s\t%d\n", root, edition)
		return nil
	},
}
