package security

import (
	"fmt"

	"github.com/wudi/scanclean/ir/raw"
)

// DecryptObject decrypts every string and stream payload reachable from obj
// without following references. Containers are updated in place; the
// returned object replaces obj when obj itself is a string.
//
// Cross-reference streams are stored in the clear, as are metadata streams
// when /EncryptMetadata is false.
func DecryptObject(h Handler, ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := h.Decrypt(ref, v.Bytes, DataClassString)
		if err != nil {
			return nil, fmt.Errorf("decrypt string: %w", err)
		}
		return raw.StringObj{Bytes: b, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			d, err := DecryptObject(h, ref, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = d
		}
	case *raw.DictObj:
		for _, k := range v.SortedKeys() {
			d, err := DecryptObject(h, ref, v.KV[k])
			if err != nil {
				return nil, err
			}
			v.KV[k] = d
		}
	case *raw.StreamObj:
		if v.Dict != nil {
			if _, err := DecryptObject(h, ref, v.Dict); err != nil {
				return nil, err
			}
		}
		if clearStream(h, v) {
			return v, nil
		}
		b, err := h.Decrypt(ref, v.Data, DataClassStream)
		if err != nil {
			return nil, fmt.Errorf("decrypt stream: %w", err)
		}
		v.Data = b
	}
	return obj, nil
}

func clearStream(h Handler, s *raw.StreamObj) bool {
	if s.Dict == nil {
		return false
	}
	switch t, _ := raw.NameValue(lookup(s.Dict, "Type")); t {
	case "XRef":
		return true
	case "Metadata":
		return !h.EncryptMetadata()
	}
	return false
}
