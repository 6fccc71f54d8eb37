package main

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/protoindex"
	"github.com/hyphanet/plugin-Library-sub002/skeleton"

	"github.com/urfave/cli/v2"
)

var dumpCmd = &cli.Command{
	Name:      "dump",
	Usage:     "print the term table of an index as a tree",
	ArgsUsage: `<root>`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "depth",
			Usage: "levels of the term table to load; -1 loads all of it",
			Value: 2,
		},
		&cli.IntFlag{
			Name:  "max-keys",
			Usage: "terms listed per node, 0 for all",
			Value: 8,
		},
		&cli.BoolFlag{
			Name:  "full-locators",
			Usage: "print locators in full rather than abbreviated",
		},
		&cli.BoolFlag{
			Name:  "terms",
			Usage: "list every term instead of drawing the tree",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		root, err := parseRoot(cctx)
		if err != nil {
			return err
		}

		be, closer, err := openBackend(cctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		srl := protoindex.NewSerializer(be, indexConfig(cctx))
		idx, err := srl.Open(ctx, root)
		if err != nil {
			return err
		}

		fmt.Fprintf(cctx.App.Writer, "name: %s\nowner: %s <%s>\npages: %d\nmodified: %s\n", idx.Name, idx.OwnerName, idx.OwnerEmail, idx.TotalPages, idx.Modified)

		if cctx.Bool("terms") {
			terms, err := idx.Terms(ctx)
			if err != nil {
				return err
			}
			for _, t := range terms {
				fmt.Fprintln(cctx.App.Writer, t)
			}
			return nil
		}

		out, err := idx.DebugTree(ctx, cctx.Int("depth"), skeleton.DebugOptions[string]{
			FullLocators: cctx.Bool("full-locators"),
			MaxKeys:      cctx.Int("max-keys"),
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, out)
		return nil
	},
}
