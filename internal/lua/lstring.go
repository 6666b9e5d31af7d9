// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import "strings"

// LString is an immutable Lua string.
// Lua strings are sequences of bytes with no particular encoding.
// The zero value is the empty string.
type LString struct {
	s    string
	hash uint32
}

// NewLString returns a new [LString] with the content of s.
func NewLString(s string) LString {
	return LString{s: s, hash: hashString(s)}
}

// MakeLString returns a new [LString] with a copy of b.
func MakeLString(b []byte) LString {
	return NewLString(string(b))
}

func hashString(s string) uint32 {
	h := uint32(len(s))
	step := len(s)>>5 + 1
	for i := len(s); i >= step; i -= step {
		h ^= (h << 5) + (h >> 2) + uint32(s[i-1])
	}
	return h
}

// Len returns the number of bytes in the string.
func (s LString) Len() int {
	return len(s.s)
}

// At returns the i'th byte of the string.
// At panics if i is out of range.
func (s LString) At(i int) byte {
	return s.s[i]
}

// Bytes returns a copy of the string's bytes.
func (s LString) Bytes() []byte {
	return []byte(s.s)
}

// String returns the string's content as a Go string.
func (s LString) String() string {
	return s.s
}

// Hash returns the string's hash code.
// Equal strings have equal hash codes.
func (s LString) Hash() uint32 {
	if s.hash == 0 && s.s != "" {
		return hashString(s.s)
	}
	return s.hash
}

// Equal reports whether s and s2 have the same bytes.
func (s LString) Equal(s2 LString) bool {
	if len(s.s) != len(s2.s) || s.Hash() != s2.Hash() {
		return false
	}
	return s.s == s2.s
}

// Substring returns the n bytes of s starting at byte offset start.
// A proper substring is copied into its own buffer.
// Substring panics if the range is out of bounds.
func (s LString) Substring(start, n int) LString {
	if start == 0 && n == len(s.s) {
		return s
	}
	return NewLString(strings.Clone(s.s[start : start+n]))
}

// CompareOrdinal compares the two strings byte-wise.
// The result will be 0 if s == s2, -1 if s < s2, and +1 if s > s2.
func (s LString) CompareOrdinal(s2 LString) int {
	return strings.Compare(s.s, s2.s)
}

// Concat returns the concatenation of s and the given strings.
func (s LString) Concat(more ...LString) LString {
	if len(more) == 0 {
		return s
	}
	return concatLStrings(append([]LString{s}, more...))
}

func concatLStrings(parts []LString) LString {
	switch len(parts) {
	case 0:
		return LString{}
	case 1:
		return parts[0]
	}
	n := 0
	for _, p := range parts {
		n += len(p.s)
	}
	sb := new(strings.Builder)
	sb.Grow(n)
	for _, p := range parts {
		sb.WriteString(p.s)
	}
	return NewLString(sb.String())
}
