package doccodec

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
)

// Validate checks that obj only holds values of the intermediate form.
func Validate(obj map[string]any) error {
	_, err := parseObject(obj)
	return err
}

// Marshal serializes a document to DAG-CBOR bytes.
func Marshal(obj map[string]any) ([]byte, error) {
	doc, err := forCBOR(obj)
	if err != nil {
		return nil, err
	}
	b, err := cbor.DumpObject(doc)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxDocumentSize {
		return nil, fmt.Errorf("encoded document too large: %d bytes", len(b))
	}
	return b, nil
}

// Unmarshal parses DAG-CBOR bytes into a document, validating its shape at the same time.
func Unmarshal(b []byte) (map[string]any, error) {
	if len(b) > MaxDocumentSize {
		return nil, fmt.Errorf("encoded document too large: %d bytes", len(b))
	}
	var rawObj map[string]any
	if err := cbor.DecodeInto(b, &rawObj); err != nil {
		return nil, err
	}
	return parseObject(rawObj)
}

// helper to get generic data in the correct "shape" for serialization with ipfs/go-ipld-cbor
func forCBOR(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		v, err := forCBORAtom(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func forCBORAtom(val any) (any, error) {
	switch v := val.(type) {
	case CIDLink:
		if !v.Defined() {
			return nil, fmt.Errorf("undefined cid-link")
		}
		return cid.Cid(v), nil
	case cid.Cid:
		if !v.Defined() {
			return nil, fmt.Errorf("undefined cid-link")
		}
		return v, nil
	case Bytes:
		return []byte(v), nil
	case BinInfo:
		if !v.Locator.Defined() {
			return nil, fmt.Errorf("undefined $bin locator")
		}
		return v.forCBOR(), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case map[string]any:
		return forCBOR(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			e, err := forCBORAtom(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}
