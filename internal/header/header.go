// Package header holds package metadata as a typed tag map.
package header

import (
	"fmt"
	"slices"
	"strconv"

	"rpmkit/internal/depset"
	"rpmkit/internal/rpmerr"
)

// Kind is the type of a header value.
type Kind uint8

const (
	KindInt32 Kind = iota + 1
	KindString
	KindStringArray
	KindBin
	// KindI18N is a translatable string; only the default locale is kept.
	KindI18N
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindString:
		return "string"
	case KindStringArray:
		return "string_array"
	case KindBin:
		return "bin"
	case KindI18N:
		return "i18nstring"
	}
	return "unknown"
}

// Value is one typed header entry. String kinds keep their data in Strs,
// with exactly one element for KindString and KindI18N.
type Value struct {
	Kind Kind
	Ints []int32
	Strs []string
	Bin  []byte
}

func IntValue(v ...int32) Value     { return Value{Kind: KindInt32, Ints: v} }
func StringValue(s string) Value    { return Value{Kind: KindString, Strs: []string{s}} }
func I18NValue(s string) Value      { return Value{Kind: KindI18N, Strs: []string{s}} }
func ArrayValue(ss ...string) Value { return Value{Kind: KindStringArray, Strs: ss} }
func BinValue(b []byte) Value       { return Value{Kind: KindBin, Bin: b} }

// Count is the number of elements held.
func (v Value) Count() int {
	switch v.Kind {
	case KindInt32:
		return len(v.Ints)
	case KindBin:
		return len(v.Bin)
	}
	return len(v.Strs)
}

func (v Value) clone() Value {
	return Value{
		Kind: v.Kind,
		Ints: slices.Clone(v.Ints),
		Strs: slices.Clone(v.Strs),
		Bin:  slices.Clone(v.Bin),
	}
}

// Header maps tags to values. The zero value is not usable; call New.
type Header struct {
	entries map[Tag]Value
}

func New() *Header {
	return &Header{entries: make(map[Tag]Value)}
}

func (h *Header) Has(tag Tag) bool {
	_, ok := h.entries[tag]
	return ok
}

func (h *Header) Get(tag Tag) (Value, bool) {
	v, ok := h.entries[tag]
	return v, ok
}

// Put sets tag, replacing any previous value.
func (h *Header) Put(tag Tag, v Value) {
	h.entries[tag] = v
}

// Modify replaces an existing entry and reports whether there was one.
func (h *Header) Modify(tag Tag, v Value) bool {
	if _, ok := h.entries[tag]; !ok {
		return false
	}
	h.entries[tag] = v
	return true
}

// AddOrAppend creates tag or appends to it. Only array kinds can be
// appended to, and the kinds must agree.
func (h *Header) AddOrAppend(tag Tag, v Value) error {
	old, ok := h.entries[tag]
	if !ok {
		h.entries[tag] = v
		return nil
	}
	if old.Kind != v.Kind {
		return rpmerr.Newf(rpmerr.ErrInvalidState, "tag %s: cannot append %s to %s", tag, v.Kind, old.Kind)
	}
	switch old.Kind {
	case KindInt32:
		old.Ints = append(old.Ints, v.Ints...)
	case KindStringArray:
		old.Strs = append(old.Strs, v.Strs...)
	case KindBin:
		old.Bin = append(old.Bin, v.Bin...)
	default:
		return rpmerr.Newf(rpmerr.ErrInvalidState, "tag %s: %s values cannot be appended", tag, old.Kind)
	}
	h.entries[tag] = old
	return nil
}

func (h *Header) Delete(tag Tag) bool {
	_, ok := h.entries[tag]
	delete(h.entries, tag)
	return ok
}

// Copy returns a deep copy.
func (h *Header) Copy() *Header {
	c := New()
	for t, v := range h.entries {
		c.entries[t] = v.clone()
	}
	return c
}

// Tags lists the tags present in ascending order.
func (h *Header) Tags() []Tag {
	tags := make([]Tag, 0, len(h.entries))
	for t := range h.entries {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

func (h *Header) Len() int { return len(h.entries) }

func (h *Header) SetString(tag Tag, s string)     { h.Put(tag, StringValue(s)) }
func (h *Header) SetStrings(tag Tag, ss []string) { h.Put(tag, ArrayValue(ss...)) }
func (h *Header) SetInt32s(tag Tag, vals []int32) { h.Put(tag, IntValue(vals...)) }
func (h *Header) SetInt32(tag Tag, v int32)       { h.Put(tag, IntValue(v)) }

// String returns the first string of tag, or "".
func (h *Header) String(tag Tag) string {
	v, ok := h.entries[tag]
	if !ok || len(v.Strs) == 0 {
		return ""
	}
	return v.Strs[0]
}

func (h *Header) Strings(tag Tag) []string {
	return h.entries[tag].Strs
}

func (h *Header) Int32s(tag Tag) []int32 {
	return h.entries[tag].Ints
}

// Int32 returns the first integer of tag.
func (h *Header) Int32(tag Tag) (int32, bool) {
	v, ok := h.entries[tag]
	if !ok || len(v.Ints) == 0 {
		return 0, false
	}
	return v.Ints[0], true
}

func (h *Header) Bin(tag Tag) []byte {
	return h.entries[tag].Bin
}

func (h *Header) Name() string    { return h.String(TagName) }
func (h *Header) Version() string { return h.String(TagVersion) }
func (h *Header) Release() string { return h.String(TagRelease) }
func (h *Header) Arch() string    { return h.String(TagArch) }

// Epoch is the decimal epoch, or "" when the header has none.
func (h *Header) Epoch() string {
	if e, ok := h.Int32(TagEpoch); ok {
		return strconv.Itoa(int(e))
	}
	return ""
}

func (h *Header) EVR() depset.EVR {
	return depset.EVR{Epoch: h.Epoch(), Version: h.Version(), Release: h.Release()}
}

// NVR is name-version-release.
func (h *Header) NVR() string {
	return fmt.Sprintf("%s-%s-%s", h.Name(), h.Version(), h.Release())
}

// Size is the installed size in bytes.
func (h *Header) Size() int64 {
	v, _ := h.Int32(TagSize)
	return int64(uint32(v))
}

// Prefix is the relocation prefix, if any.
func (h *Header) Prefix() string {
	if p := h.String(TagDefaultPrefix); p != "" {
		return p
	}
	if ps := h.Strings(TagPrefixes); len(ps) > 0 {
		return ps[0]
	}
	return ""
}
