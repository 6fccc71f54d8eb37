package doccodec

import (
	"github.com/ipfs/go-cid"
)

// Links returns every locator referenced from a parsed document, in no particular order. Duplicates are reported once.
func Links(obj map[string]any) []cid.Cid {
	seen := make(map[cid.Cid]struct{})
	var out []cid.Cid
	add := func(c cid.Cid) {
		if !c.Defined() {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	var walk func(v any)
	walk = func(v any) {
		switch v := v.(type) {
		case CIDLink:
			add(cid.Cid(v))
		case cid.Cid:
			add(v)
		case BinInfo:
			add(v.Locator)
		case map[string]any:
			for _, elem := range v {
				walk(elem)
			}
		case []any:
			for _, elem := range v {
				walk(elem)
			}
		}
	}
	walk(obj)
	return out
}
