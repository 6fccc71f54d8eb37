package doccodec

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/ipfs/go-cid"
)

func parseInt(atom any) (int64, error) {
	switch v := atom.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer out of range: %d", v)
		}
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("number is not an integer: %f", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %s", reflect.TypeOf(atom))
	}
}

func parseAtom(atom any) (any, error) {
	switch v := atom.(type) {
	case nil:
		return v, nil
	case bool:
		return v, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return parseInt(v)
	case float64:
		return v, nil
	case string:
		if len(v) > MaxStringLen {
			return nil, fmt.Errorf("string too long: %d", len(v))
		}
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case cid.Cid:
		return CIDLink(v), nil
	case CIDLink:
		return v, nil
	case []byte:
		return Bytes(v), nil
	case Bytes:
		return v, nil
	case BinInfo:
		return v, nil
	case []any:
		return parseArray(v)
	case map[string]any:
		return parseMap(v)
	default:
		return nil, fmt.Errorf("unexpected type: %s", reflect.TypeOf(v))
	}
}

func parseArray(l []any) ([]any, error) {
	if len(l) > MaxContainerLen {
		return nil, fmt.Errorf("list too long: %d", len(l))
	}
	out := make([]any, len(l))
	for i, v := range l {
		p, err := parseAtom(v)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func parseMap(obj map[string]any) (any, error) {
	if len(obj) > MaxContainerLen {
		return nil, fmt.Errorf("map has too many fields: %d", len(obj))
	}
	if _, ok := obj[binKey]; ok {
		return parseBinInfo(obj)
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		if len(k) > MaxKeyLen {
			return nil, fmt.Errorf("map key too long: %d", len(k))
		}
		atom, err := parseAtom(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = atom
	}
	return out, nil
}

func parseObject(obj map[string]any) (map[string]any, error) {
	out, err := parseMap(obj)
	if err != nil {
		return nil, err
	}
	if outObj, ok := out.(map[string]any); ok {
		return outObj, nil
	}
	return nil, fmt.Errorf("top-level datum was not a plain map")
}
