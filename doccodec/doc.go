/*
Package doccodec converts archived documents between their intermediate form (map[string]any) and DAG-CBOR bytes.

The intermediate form is restricted to maps, lists and scalars (nil, bool, int64, string, float64), plus three named types:

  - CIDLink, a content locator, encoded as a CBOR tag-42 link
  - Bytes, a byte string
  - BinInfo, a single (locator -> integer weight) pair used for bin-packing bookkeeping, encoded as {"$bin": {"<cid>": weight}}

Dates are stored as RFC3339 strings; time.Time values are converted on the way in.
*/
package doccodec
