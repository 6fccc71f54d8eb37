package protoindex

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/doccodec"
	"github.com/hyphanet/plugin-Library-sub002/posting"
)

// entryKeys stores posting entries in node documents as their binary encoding.
var entryKeys archive.Translator[posting.Entry, any] = archive.TranslatorFuncs[posting.Entry, any]{
	AppFunc: func(e posting.Entry) (any, error) {
		b, err := posting.Encode(e)
		if err != nil {
			return nil, err
		}
		return doccodec.Bytes(b), nil
	},
	RevFunc: func(v any) (posting.Entry, error) {
		b, ok := v.(doccodec.Bytes)
		if !ok {
			return nil, fmt.Errorf("posting entry is %T, not bytes", v)
		}
		return posting.Decode(b)
	},
}
