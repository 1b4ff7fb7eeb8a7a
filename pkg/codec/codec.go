// Package codec provides the canonical JSON encoding the engine signs over: object keys
// sorted, no insignificant whitespace, so two structurally equal values always serialize
// to the same bytes.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/sunet/vcengine/internal/errs"
)

// CanonicalJSON serializes v deterministically: any struct is first flattened through its
// JSON form into maps, whose keys encoding/json emits in sorted order, with no whitespace.
func CanonicalJSON(v any) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "canonical json: marshal")
	}

	var intermediate any
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&intermediate); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "canonical json: normalize")
	}

	out, err := json.Marshal(intermediate)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "canonical json: re-marshal")
	}
	return out, nil
}

// Equal reports whether a and b are the same JSON value regardless of key order or
// whitespace.
func Equal(a, b []byte) (bool, error) {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false, errs.Wrap(errs.ParseError, err, "compare json: left operand")
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false, errs.Wrap(errs.ParseError, err, "compare json: right operand")
	}
	ca, err := CanonicalJSON(va)
	if err != nil {
		return false, err
	}
	cb, err := CanonicalJSON(vb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
