// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"strconv"
	"strings"

	"github.com/henchmeninteractive/henchlua/internal/luanum"
)

type valueType byte

// Constant type tags, as used in the dump format.
const (
	valueTypeNil     valueType = 0
	valueTypeBoolean valueType = 1
	valueTypeNumber  valueType = 3
	valueTypeString  valueType = 4
)

// Value is a subset of Lua values that can be used as constants:
// nil, booleans, numbers, and strings.
// The zero value is nil.
// Values can be compared for equality with the == operator,
// although NaN constants compare equal to themselves that way.
type Value struct {
	bits uint64
	s    string
	t    valueType
}

// BoolValue converts a boolean to a [Value].
func BoolValue(b bool) Value {
	v := Value{t: valueTypeBoolean}
	if b {
		v.bits = 1
	}
	return v
}

// NumberValue converts a floating-point number to a [Value].
func NumberValue(f float64) Value {
	return Value{
		t:    valueTypeNumber,
		bits: math.Float64bits(f),
	}
}

// StringValue converts a string to a [Value].
func StringValue(s string) Value {
	return Value{
		t: valueTypeString,
		s: s,
	}
}

// IsNil reports whether v is the zero value.
func (v Value) IsNil() bool {
	return v.t == valueTypeNil
}

// IsBoolean reports whether the value is a boolean.
func (v Value) IsBoolean() bool {
	return v.t == valueTypeBoolean
}

// IsNumber reports whether the value is a number.
func (v Value) IsNumber() bool {
	return v.t == valueTypeNumber
}

// IsString reports whether the value is a string.
func (v Value) IsString() bool {
	return v.t == valueTypeString
}

// Bool reports whether the value tests true in Lua
// and whether the value is a boolean.
func (v Value) Bool() (_ bool, isBool bool) {
	switch v.t {
	case valueTypeNil:
		return false, false
	case valueTypeBoolean:
		return v.bits != 0, true
	default:
		return true, false
	}
}

// Float64 returns the value as a floating-point number
// and reports whether the value is a number.
// No coercion occurs.
func (v Value) Float64() (_ float64, isNumber bool) {
	if v.t != valueTypeNumber {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// Unquoted returns the value as a string
// and reports whether the value is a string.
// Numbers are coerced to a string,
// but isString will be false.
func (v Value) Unquoted() (s string, isString bool) {
	switch v.t {
	case valueTypeString:
		return v.s, true
	case valueTypeNumber:
		f, _ := v.Float64()
		return luanum.Format(f), false
	default:
		return "", false
	}
}

// String returns the value as a Lua constant.
func (v Value) String() string {
	switch v.t {
	case valueTypeNil:
		return "nil"
	case valueTypeBoolean:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case valueTypeNumber:
		s, _ := v.Unquoted()
		return s
	case valueTypeString:
		return Quote(v.s)
	default:
		return "<invalid value>"
	}
}

// Equal returns whether two values are equivalent according to [Lua equality].
//
// [Lua equality]: https://www.lua.org/manual/5.2/manual.html#3.4.3
func (v Value) Equal(v2 Value) bool {
	switch v.t {
	case valueTypeNumber:
		f1, _ := v.Float64()
		f2, ok := v2.Float64()
		return ok && f1 == f2
	default:
		return v == v2
	}
}

// Quote returns a double-quoted Lua string literal representing s.
// Non-printable bytes are written as decimal escapes,
// so the result is valid Lua 5.2 source for any byte sequence.
func Quote(s string) string {
	sb := new(strings.Builder)
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\a':
			sb.WriteString(`\a`)
		case c == '\b':
			sb.WriteString(`\b`)
		case c == '\f':
			sb.WriteString(`\f`)
		case c == '\v':
			sb.WriteString(`\v`)
		case ' ' <= c && c < 0x7f:
			sb.WriteByte(c)
		default:
			sb.WriteByte('\\')
			digits := strconv.Itoa(int(c))
			if i+1 < len(s) && '0' <= s[i+1] && s[i+1] <= '9' {
				// Pad so the following digit is not absorbed into the escape.
				digits = strings.Repeat("0", 3-len(digits)) + digits
			}
			sb.WriteString(digits)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
