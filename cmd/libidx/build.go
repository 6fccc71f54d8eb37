package main

import (
	"fmt"
	"os"

	"github.com/hyphanet/plugin-Library-sub002/protoindex"
	"github.com/hyphanet/plugin-Library-sub002/registry"

	"github.com/araddon/dateparse"
	"github.com/urfave/cli/v2"
)

var buildCmd = &cli.Command{
	Name:      "build",
	Usage:     "create or update an index from a JSON lines file of postings",
	ArgsUsage: `<input.jsonl>`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "base",
			Usage: "root locator of an existing index to update; a new index is created when empty",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "name of a new index",
			Value: "index",
		},
		&cli.StringFlag{
			Name:  "owner",
			Usage: "index owner name",
		},
		&cli.StringFlag{
			Name:  "owner-email",
			Usage: "index owner email",
		},
		&cli.StringFlag{
			Name:    "insert-key",
			Usage:   "private key to publish the index under; requires --database-url",
			EnvVars: []string{"LIBIDX_INSERT_KEY"},
		},
		&cli.StringFlag{
			Name:  "modified",
			Usage: "modification time to record instead of now (most date formats accepted)",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		arg := cctx.Args().First()
		if arg == "" {
			return fmt.Errorf("input file path arg is required")
		}

		fi, err := os.Open(arg)
		if err != nil {
			return err
		}
		in, err := readInput(fi)
		fi.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", arg, err)
		}

		be, closer, err := openBackend(cctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		srl := protoindex.NewSerializer(be, indexConfig(cctx))

		insertKey := cctx.String("insert-key")
		if insertKey != "" {
			reg, err := openRegistry(cctx)
			if err != nil {
				return err
			}
			if reg == nil {
				return errNoDatabase
			}
			srl.Publisher = reg
		}

		var idx *protoindex.ProtoIndex
		if base := cctx.String("base"); base != "" {
			loc, err := parseRootString(base)
			if err != nil {
				return err
			}
			idx, err = srl.Open(ctx, loc)
			if err != nil {
				return err
			}
		} else {
			idx, err = srl.New(cctx.String("name"))
			if err != nil {
				return err
			}
		}
		if owner := cctx.String("owner"); owner != "" {
			idx.OwnerName = owner
		}
		if email := cctx.String("owner-email"); email != "" {
			idx.OwnerEmail = email
		}
		if insertKey != "" {
			idx.SetInsertKey(insertKey)
		}

		// removals first, so a line re-adding a removed posting wins
		if len(in.Removes) > 0 {
			if _, err := idx.RemTermEntries(ctx, in.Removes).Join(ctx); err != nil {
				return err
			}
		}
		if len(in.Puts) > 0 {
			if _, err := idx.PutTermEntries(ctx, in.Puts).Join(ctx); err != nil {
				return err
			}
		}
		if len(in.URIs) > 0 {
			if _, err := idx.PutURIEntries(ctx, in.URIs).Join(ctx); err != nil {
				return err
			}
		}

		mod := cctx.String("modified")
		if mod != "" || in.empty() {
			if mod != "" {
				t, err := dateparse.ParseAny(mod)
				if err != nil {
					return fmt.Errorf("parsing --modified: %w", err)
				}
				idx.Modified = t.UTC()
			}
			if _, err := idx.Push(ctx).Join(ctx); err != nil {
				return err
			}
		}

		root := idx.Root()
		log.Info("index built", "root", root, "terms", idx.TermCount(), "pages", idx.TotalPages,
			"puts", len(in.Puts), "removes", len(in.Removes), "uris", len(in.URIs))
		if insertKey != "" {
			log.Info("index published", "requestKey", registry.RequestKey(insertKey))
		}
		fmt.Fprintln(cctx.App.Writer, root.String())
		return nil
	},
}
