package doccodec

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
)

// BinInfo pairs the locator of an archived block with an integer weight, typically the number of items reachable through it.
type BinInfo struct {
	Locator cid.Cid
	Weight  int64
}

func NewBinInfo(loc cid.Cid, weight int64) BinInfo {
	return BinInfo{Locator: loc, Weight: weight}
}

func (bi BinInfo) String() string {
	return fmt.Sprintf("%s:%d", bi.Locator, bi.Weight)
}

func (bi BinInfo) MarshalJSON() ([]byte, error) {
	if !bi.Locator.Defined() {
		return nil, fmt.Errorf("tried to marshal bin info with undefined locator")
	}
	return json.Marshal(map[string]any{
		binKey: map[string]int64{bi.Locator.String(): bi.Weight},
	})
}

func (bi BinInfo) forCBOR() map[string]any {
	return map[string]any{
		binKey: map[string]any{bi.Locator.String(): bi.Weight},
	}
}

func parseBinInfo(obj map[string]any) (BinInfo, error) {
	var zero BinInfo
	if len(obj) != 1 {
		return zero, fmt.Errorf("$bin objects must have a single field")
	}
	inner, ok := obj[binKey].(map[string]any)
	if !ok {
		return zero, fmt.Errorf("$bin field missing or not a map")
	}
	if len(inner) != 1 {
		return zero, fmt.Errorf("$bin map must have exactly one entry, found %d", len(inner))
	}
	for k, v := range inner {
		c, err := cid.Decode(k)
		if err != nil {
			return zero, fmt.Errorf("invalid $bin locator: %w", err)
		}
		if !c.Defined() {
			return zero, fmt.Errorf("undefined (null) locator in $bin")
		}
		w, err := parseInt(v)
		if err != nil {
			return zero, fmt.Errorf("invalid $bin weight: %w", err)
		}
		return BinInfo{Locator: c, Weight: w}, nil
	}
	return zero, fmt.Errorf("unreachable")
}
