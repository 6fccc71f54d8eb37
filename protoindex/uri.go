package protoindex

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"github.com/spaolacci/murmur3"
)

// URIEntry is what the index knows about one page.
type URIEntry struct {
	URI       string
	Title     string
	Quality   float32
	WordCount int64
}

// URIKey is the utab bucket a page lives in: the first four hex digits of the murmur3 hash of its URI.
func URIKey(uri string) string {
	return fmt.Sprintf("%08x", murmur3.Sum32([]byte(uri)))[:4]
}

var uriEntryValues archive.Translator[*URIEntry, any] = archive.TranslatorFuncs[*URIEntry, any]{
	AppFunc: func(e *URIEntry) (any, error) {
		doc := map[string]any{
			"uri":       e.URI,
			"quality":   float64(e.Quality),
			"wordCount": e.WordCount,
		}
		if e.Title != "" {
			doc["title"] = e.Title
		}
		return doc, nil
	},
	RevFunc: func(v any) (*URIEntry, error) {
		doc, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("uri entry is %T", v)
		}
		e := &URIEntry{}
		if e.URI, ok = doc["uri"].(string); !ok {
			return nil, fmt.Errorf("uri entry without uri")
		}
		if t, ok := doc["title"].(string); ok {
			e.Title = t
		}
		switch q := doc["quality"].(type) {
		case float64:
			e.Quality = float32(q)
		case int64:
			e.Quality = float32(q)
		default:
			return nil, fmt.Errorf("uri entry %s without quality", e.URI)
		}
		if e.WordCount, ok = doc["wordCount"].(int64); !ok {
			return nil, fmt.Errorf("uri entry %s without word count", e.URI)
		}
		return e, nil
	},
}
