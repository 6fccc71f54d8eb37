package doccodec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, s string) cid.Cid {
	c, err := cid.NewPrefixV1(cid.DagCBOR, multihash.SHA2_256).Sum([]byte(s))
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	child := testCid(t, "child")
	bin := testCid(t, "bin")
	obj := map[string]any{
		"size":    int64(12),
		"name":    "an index",
		"ok":      true,
		"nothing": nil,
		"root":    CIDLink(child),
		"raw":     Bytes([]byte{0, 1, 2, 255}),
		"subnodes": []any{
			NewBinInfo(bin, 7),
			NewBinInfo(child, 5),
		},
		"nested": map[string]any{
			"entries": []any{[]any{"k", int64(-3)}},
		},
	}
	require.NoError(Validate(obj))

	b, err := Marshal(obj)
	require.NoError(err)
	out, err := Unmarshal(b)
	require.NoError(err)
	assert.Equal(obj, out)

	// encoding is deterministic
	again, err := Marshal(out)
	require.NoError(err)
	assert.Equal(b, again)
}

func TestIntegerNormalization(t *testing.T) {
	assert := assert.New(t)

	b, err := Marshal(map[string]any{"a": 5, "b": int32(-6)})
	assert.NoError(err)
	out, err := Unmarshal(b)
	assert.NoError(err)
	assert.Equal(int64(5), out["a"])
	assert.Equal(int64(-6), out["b"])
}

func TestTimeAsString(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	b, err := Marshal(map[string]any{"modified": ts})
	assert.NoError(err)
	out, err := Unmarshal(b)
	assert.NoError(err)
	assert.Equal("2024-03-01T12:30:00Z", out["modified"])
}

func TestBinInfoShape(t *testing.T) {
	assert := assert.New(t)
	c := testCid(t, "x")

	_, err := parseMap(map[string]any{"$bin": map[string]any{c.String(): int64(1)}, "extra": 1})
	assert.Error(err)
	_, err = parseMap(map[string]any{"$bin": map[string]any{}})
	assert.Error(err)
	_, err = parseMap(map[string]any{"$bin": map[string]any{"not-a-cid": int64(1)}})
	assert.Error(err)
	_, err = parseMap(map[string]any{"$bin": map[string]any{c.String(): "heavy"}})
	assert.Error(err)

	v, err := parseMap(map[string]any{"$bin": map[string]any{c.String(): uint64(9)}})
	assert.NoError(err)
	assert.Equal(NewBinInfo(c, 9), v)

	j, err := json.Marshal(NewBinInfo(c, 9))
	assert.NoError(err)
	assert.JSONEq(`{"$bin": {"`+c.String()+`": 9}}`, string(j))
}

func TestRejectsBadValues(t *testing.T) {
	assert := assert.New(t)

	assert.Error(Validate(map[string]any{"a": struct{}{}}))
	_, err := Marshal(map[string]any{"a": CIDLink(cid.Undef)})
	assert.Error(err)
	_, err = Marshal(map[string]any{"a": []any{NewBinInfo(cid.Undef, 1)}})
	assert.Error(err)
	_, err = Unmarshal([]byte{0xff, 0x00})
	assert.Error(err)
}

func TestLinks(t *testing.T) {
	assert := assert.New(t)

	a := testCid(t, "a")
	b := testCid(t, "b")
	obj := map[string]any{
		"root": CIDLink(a),
		"subnodes": []any{
			NewBinInfo(b, 1),
			NewBinInfo(a, 2),
		},
		"name": "no links here",
	}
	assert.ElementsMatch([]cid.Cid{a, b}, Links(obj))
	assert.Empty(Links(map[string]any{"x": int64(1)}))
}
