package main

import (
	"fmt"
	"os"

	"github.com/hyphanet/plugin-Library-sub002/arcstore"

	"github.com/urfave/cli/v2"
)

var exportCarCmd = &cli.Command{
	Name:      "export-car",
	Usage:     "write every block reachable from an index root to a CAR file",
	ArgsUsage: `<root> <out.car>`,
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		root, err := parseRoot(cctx)
		if err != nil {
			return err
		}
		out := cctx.Args().Get(1)
		if out == "" {
			return fmt.Errorf("output CAR path arg is required")
		}

		be, closer, err := openBackend(cctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		fi, err := os.Create(out)
		if err != nil {
			return err
		}
		n, err := arcstore.ExportCAR(ctx, be, root, fi)
		if err != nil {
			fi.Close()
			return err
		}
		if err := fi.Close(); err != nil {
			return err
		}
		log.Info("exported index", "root", root, "blocks", n, "path", out)
		return nil
	},
}

var importCarCmd = &cli.Command{
	Name:      "import-car",
	Usage:     "load the blocks of a CAR file into the store and print its roots",
	ArgsUsage: `<in.car>`,
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		arg := cctx.Args().First()
		if arg == "" {
			return fmt.Errorf("CAR file path arg is required")
		}

		be, closer, err := openBackend(cctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		fi, err := os.Open(arg)
		if err != nil {
			return err
		}
		defer fi.Close()

		roots, n, err := arcstore.ImportCAR(ctx, be, fi)
		if err != nil {
			return err
		}
		log.Info("imported CAR", "path", arg, "blocks", n, "roots", len(roots))
		for _, r := range roots {
			fmt.Fprintln(cctx.App.Writer, r.String())
		}
		return nil
	},
}
