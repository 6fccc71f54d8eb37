package main

import (
	"encoding/json"
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/posting"
	"github.com/hyphanet/plugin-Library-sub002/protoindex"

	"github.com/urfave/cli/v2"
)

var lookupCmd = &cli.Command{
	Name:      "lookup",
	Usage:     "print the postings of a term, relevance adjusted",
	ArgsUsage: `<root> <term>`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print one JSON object per posting",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		root, err := parseRoot(cctx)
		if err != nil {
			return err
		}
		term := cctx.Args().Get(1)
		if term == "" {
			return fmt.Errorf("term arg is required")
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

		ex := idx.GetTermEntries(ctx, term)
		view, err := ex.Join(ctx)
		if err != nil {
			return err
		}
		st := ex.Status()
		log.Debug("lookup done", "term", term, "hops", len(st.Hops), "elapsed", st.Elapsed, "entries", view.Len(), "multiplier", view.Multiplier())

		enc := json.NewEncoder(cctx.App.Writer)
		for e := range view.All() {
			rec := outputRecord(e)
			if cctx.Bool("json") {
				if err := enc.Encode(rec); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(cctx.App.Writer, "%s\t%.4f\t%s\t%s\n", rec.Kind, rec.Rel, rec.target(), rec.Title)
		}
		return nil
	},
}

// outputRecord is the inverse of the build input mapping.
func outputRecord(e posting.Entry) *inputRecord {
	rec := &inputRecord{
		Kind: e.Kind().String(),
		Term: e.Subject(),
		Rel:  e.Relevance(),
	}
	switch e := e.(type) {
	case *posting.TermEntry:
		rec.Related = e.Term
	case *posting.IndexEntry:
		rec.Index = e.Index
	case *posting.PageEntry:
		rec.Page = e.Page
		rec.Title = e.Title
		if len(e.Positions) > 0 {
			rec.Positions = make(map[string]string, len(e.Positions))
			for pos, frag := range e.Positions {
				rec.Positions[fmt.Sprint(pos)] = frag
			}
		}
	}
	return rec
}

func (rec *inputRecord) target() string {
	switch {
	case rec.Page != "":
		return rec.Page
	case rec.Index != "":
		return rec.Index
	default:
		return rec.Related
	}
}
