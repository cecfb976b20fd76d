package header

import (
	"encoding/json"
	"fmt"
)

type wireEntry struct {
	Tag  Tag      `json:"tag"`
	Kind Kind     `json:"kind"`
	Ints []int32  `json:"ints,omitempty"`
	Strs []string `json:"strs,omitempty"`
	Bin  []byte   `json:"bin,omitempty"`
}

// MarshalJSON writes the entries as a tag-ordered list.
func (h *Header) MarshalJSON() ([]byte, error) {
	wire := make([]wireEntry, 0, len(h.entries))
	for _, t := range h.Tags() {
		v := h.entries[t]
		wire = append(wire, wireEntry{Tag: t, Kind: v.Kind, Ints: v.Ints, Strs: v.Strs, Bin: v.Bin})
	}
	return json.Marshal(wire)
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var wire []wireEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	h.entries = make(map[Tag]Value, len(wire))
	for _, w := range wire {
		switch w.Kind {
		case KindInt32, KindStringArray, KindBin:
		case KindString, KindI18N:
			if len(w.Strs) != 1 {
				return fmt.Errorf("tag %s: %s entry with %d values", w.Tag, w.Kind, len(w.Strs))
			}
		default:
			return fmt.Errorf("tag %s: unknown kind %d", w.Tag, w.Kind)
		}
		h.entries[w.Tag] = Value{Kind: w.Kind, Ints: w.Ints, Strs: w.Strs, Bin: w.Bin}
	}
	return nil
}

// Encode returns the JSON form.
func Encode(h *Header) ([]byte, error) {
	return json.Marshal(h)
}

func Decode(data []byte) (*Header, error) {
	h := New()
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
