package cache

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Bundle is one locale's message tree as raw JSON.
type Bundle json.RawMessage

// ParseBundle validates data as a JSON object.
func ParseBundle(data []byte) (Bundle, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, errors.New("message bundle is not a JSON object")
	}
	out := make(Bundle, len(data))
	copy(out, data)
	return out, nil
}

// Lookup returns the message at a dotted key path such as "nav.home".
func (b Bundle) Lookup(key string) (string, bool) {
	r := gjson.GetBytes(b, key)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

// KeyCount returns the number of leaf messages.
func (b Bundle) KeyCount() int {
	return countLeaves(gjson.ParseBytes(b))
}

func countLeaves(r gjson.Result) int {
	if !r.IsObject() && !r.IsArray() {
		if r.Exists() {
			return 1
		}
		return 0
	}
	n := 0
	r.ForEach(func(_, v gjson.Result) bool {
		n += countLeaves(v)
		return true
	})
	return n
}

// Size returns the bundle size in bytes.
func (b Bundle) Size() int { return len(b) }

func (b Bundle) clone() Bundle {
	if b == nil {
		return nil
	}
	out := make(Bundle, len(b))
	copy(out, b)
	return out
}

// MarshalJSON emits the bundle unchanged.
func (b Bundle) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return b, nil
}

// UnmarshalJSON stores a copy of data.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
