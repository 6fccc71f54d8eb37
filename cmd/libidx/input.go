package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hyphanet/plugin-Library-sub002/posting"
	"github.com/hyphanet/plugin-Library-sub002/protoindex"
)

// inputRecord is one line of a build input file. Kind selects which of the other fields apply:
//
//	{"kind":"page","term":"lorem","page":"USK@.../site/1/","rel":0.4,"title":"Lorem","positions":{"3":"lorem ipsum"}}
//	{"kind":"term","term":"lorem","related":"ipsum"}
//	{"kind":"index","term":"lorem","index":"USK@.../other/4/"}
//	{"kind":"uri","uri":"USK@.../site/1/","title":"Lorem","quality":0.9,"words":1200}
//	{"kind":"remove-page","term":"lorem","page":"USK@.../site/1/"}
type inputRecord struct {
	Kind      string            `json:"kind"`
	Term      string            `json:"term"`
	Rel       float32           `json:"rel"`
	Page      string            `json:"page"`
	Title     string            `json:"title"`
	Positions map[string]string `json:"positions"`
	Related   string            `json:"related"`
	Index     string            `json:"index"`
	URI       string            `json:"uri"`
	Quality   float32           `json:"quality"`
	Words     int64             `json:"words"`
}

type buildInput struct {
	Puts    []posting.Entry
	Removes []posting.Entry
	URIs    []*protoindex.URIEntry
}

func (in *buildInput) empty() bool {
	return len(in.Puts) == 0 && len(in.Removes) == 0 && len(in.URIs) == 0
}

func readInput(r io.Reader) (*buildInput, error) {
	in := &buildInput{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec inputRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := in.add(&rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *buildInput) add(rec *inputRecord) error {
	if rec.Kind == "uri" {
		if rec.URI == "" {
			return fmt.Errorf("uri record without uri")
		}
		in.URIs = append(in.URIs, &protoindex.URIEntry{
			URI:       rec.URI,
			Title:     posting.SanitizeTitle(rec.Title),
			Quality:   rec.Quality,
			WordCount: rec.Words,
		})
		return nil
	}

	remove := false
	kindName := rec.Kind
	if rest, ok := strings.CutPrefix(kindName, "remove-"); ok {
		remove, kindName = true, rest
	}
	kind, err := posting.ParseKind(kindName)
	if err != nil {
		return err
	}
	if rec.Term == "" {
		return fmt.Errorf("%s record without term", rec.Kind)
	}

	var e posting.Entry
	switch kind {
	case posting.KindTerm:
		e = &posting.TermEntry{Subj: rec.Term, Rel: rec.Rel, Term: rec.Related}
	case posting.KindIndex:
		e = &posting.IndexEntry{Subj: rec.Term, Rel: rec.Rel, Index: rec.Index}
	case posting.KindPage:
		pe := &posting.PageEntry{
			Subj:  rec.Term,
			Rel:   rec.Rel,
			Page:  rec.Page,
			Title: posting.SanitizeTitle(rec.Title),
		}
		if len(rec.Positions) > 0 {
			pe.Positions = make(map[int32]string, len(rec.Positions))
			for k, frag := range rec.Positions {
				pos, err := strconv.ParseInt(k, 10, 32)
				if err != nil {
					return fmt.Errorf("bad position %q: %w", k, err)
				}
				pe.Positions[int32(pos)] = frag
			}
		}
		e = pe
	}

	if remove {
		in.Removes = append(in.Removes, e)
	} else {
		in.Puts = append(in.Puts, e)
	}
	return nil
}
