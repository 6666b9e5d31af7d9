// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"math"
	"sync"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/henchmeninteractive/henchlua/internal/luanum"
)

// Type is an enumeration of Lua data types.
type Type int

// TypeNone is the value returned from [*Thread.Type]
// for a non-valid but acceptable index.
const TypeNone Type = -1

// Value types.
const (
	TypeNil      Type = 0
	TypeBoolean  Type = 1
	TypeNumber   Type = 3
	TypeString   Type = 4
	TypeTable    Type = 5
	TypeFunction Type = 6
	TypeUserdata Type = 7
	TypeThread   Type = 8
)

// String returns the name of the type
// as returned by the Lua type function.
func (tp Type) String() string {
	switch tp {
	case TypeNone:
		return "no value"
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	case TypeUserdata:
		return "userdata"
	case TypeThread:
		return "thread"
	default:
		return fmt.Sprintf("lua.Type(%d)", int(tp))
	}
}

// Value is a Lua value.
// The zero value is nil.
// Values are small and are intended to be passed and stored by value.
// Two Values of reference type (tables, functions, userdata, threads)
// refer to the same object if and only if they compare [RawEqual].
type Value struct {
	t   Type
	n   float64
	ref any
}

// Nil is the Lua nil value.
var Nil Value

// BoolValue converts a boolean to a [Value].
func BoolValue(b bool) Value {
	v := Value{t: TypeBoolean}
	if b {
		v.n = 1
	}
	return v
}

// NumberValue converts a floating-point number to a [Value].
func NumberValue(f float64) Value {
	return Value{t: TypeNumber, n: f}
}

// IntValue converts an integer to a number [Value].
func IntValue(i int64) Value {
	return Value{t: TypeNumber, n: float64(i)}
}

// StringValue converts a Go string to a [Value].
func StringValue(s string) Value {
	return LStringValue(NewLString(s))
}

// LStringValue converts an [LString] to a [Value].
func LStringValue(s LString) Value {
	return Value{t: TypeString, ref: &s}
}

// TableValue returns a [Value] that refers to t.
// TableValue(nil) returns nil.
func TableValue(t *Table) Value {
	if t == nil {
		return Value{}
	}
	t.init()
	return Value{t: TypeTable, ref: t}
}

// FunctionValue returns a [Value] for a Go function.
// Each call to FunctionValue creates a distinct function object.
func FunctionValue(f Function) Value {
	return NamedFunctionValue("", f)
}

// NamedFunctionValue returns a [Value] for a Go function
// that reports itself as name in argument errors.
func NamedFunctionValue(name string, f Function) Value {
	if f == nil {
		return Value{}
	}
	return Value{t: TypeFunction, ref: &goFunction{
		id:   nextID(),
		name: name,
		cb:   f,
	}}
}

// ClosureValue returns a [Value] that refers to c.
// ClosureValue(nil) returns nil.
func ClosureValue(c *Closure) Value {
	if c == nil {
		return Value{}
	}
	return Value{t: TypeFunction, ref: c}
}

// UserdataValue returns a [Value] that refers to u.
// UserdataValue(nil) returns nil.
func UserdataValue(u *Userdata) Value {
	if u == nil {
		return Value{}
	}
	return Value{t: TypeUserdata, ref: u}
}

// ThreadValue returns a [Value] that refers to l.
// ThreadValue(nil) returns nil.
func ThreadValue(l *Thread) Value {
	if l == nil {
		return Value{}
	}
	return Value{t: TypeThread, ref: l}
}

func importConstant(k luacode.Value) Value {
	if f, ok := k.Float64(); ok {
		return NumberValue(f)
	}
	if s, ok := k.Unquoted(); ok {
		return StringValue(s)
	}
	if b, ok := k.Bool(); ok {
		return BoolValue(b)
	}
	return Value{}
}

// Type returns the value's type.
func (v Value) Type() Type {
	return v.t
}

// IsNil reports whether v is nil.
func (v Value) IsNil() bool {
	return v.t == TypeNil
}

// ToBool reports whether the value is considered true in a Lua condition.
// Only nil and false are considered false.
func (v Value) ToBool() bool {
	switch v.t {
	case TypeNil:
		return false
	case TypeBoolean:
		return v.n != 0
	default:
		return true
	}
}

// Float64 returns the value as a number
// or zero if the value is not a number.
// Strings are not converted.
func (v Value) Float64() (_ float64, isNumber bool) {
	if v.t != TypeNumber {
		return 0, false
	}
	return v.n, true
}

// Int returns the value truncated to an integer
// or zero if the value is not a number.
func (v Value) Int() (_ int64, isNumber bool) {
	if v.t != TypeNumber {
		return 0, false
	}
	return truncate(v.n), true
}

// MustFloat64 returns the value as a number
// or panics if the value is not a number.
func (v Value) MustFloat64() float64 {
	if v.t != TypeNumber {
		panic("lua: MustFloat64 on " + v.t.String())
	}
	return v.n
}

// MustInt32 returns the number truncated to an int32
// or panics if the value is not a number.
func (v Value) MustInt32() int32 {
	if v.t != TypeNumber {
		panic("lua: MustInt32 on " + v.t.String())
	}
	return int32(truncate(v.n))
}

// LString returns the value's string content
// or false if the value is not a string.
// Numbers are not converted.
func (v Value) LString() (_ LString, isString bool) {
	s, ok := v.ref.(*LString)
	if !ok {
		return LString{}, false
	}
	return *s, true
}

// MustLString returns the value's string content
// or panics if the value is not a string.
func (v Value) MustLString() LString {
	s, ok := v.LString()
	if !ok {
		panic("lua: MustLString on " + v.t.String())
	}
	return s
}

// Table returns the table v refers to
// or nil if v is not a table.
func (v Value) Table() *Table {
	t, _ := v.ref.(*Table)
	return t
}

// MustTable returns the table v refers to
// or panics if v is not a table.
func (v Value) MustTable() *Table {
	t, ok := v.ref.(*Table)
	if !ok {
		panic("lua: MustTable on " + v.t.String())
	}
	return t
}

// Userdata returns the userdata v refers to
// or nil if v is not a userdata.
func (v Value) Userdata() *Userdata {
	u, _ := v.ref.(*Userdata)
	return u
}

// Closure returns the Lua function v refers to
// or nil if v is not a Lua function.
func (v Value) Closure() *Closure {
	c, _ := v.ref.(*Closure)
	return c
}

// Thread returns the thread v refers to
// or nil if v is not a thread.
func (v Value) Thread() *Thread {
	l, _ := v.ref.(*Thread)
	return l
}

// String formats the value like the Lua tostring function
// without consulting metatables.
func (v Value) String() string {
	switch v.t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		if v.n != 0 {
			return "true"
		}
		return "false"
	case TypeNumber:
		return luanum.Format(v.n)
	case TypeString:
		return v.ref.(*LString).String()
	default:
		return formatObject(v.t, v.id())
	}
}

func formatObject(tp Type, id uint64) string {
	return fmt.Sprintf("%v: %#x", tp, id)
}

// RawEqual reports whether the two values are primitively equal,
// that is, without calling the __eq metamethod.
func RawEqual(v1, v2 Value) bool {
	if v1.t != v2.t {
		return false
	}
	switch v1.t {
	case TypeNil:
		return true
	case TypeBoolean, TypeNumber:
		return v1.n == v2.n
	case TypeString:
		return v1.ref.(*LString).Equal(*v2.ref.(*LString))
	default:
		return v1.ref == v2.ref
	}
}

// hash returns a hash code for the value
// that is consistent with [RawEqual].
func (v Value) hash() uint32 {
	switch v.t {
	case TypeBoolean:
		return uint32(v.n)
	case TypeNumber:
		if v.n == 0 {
			// 0 and -0 are equal.
			return 0
		}
		bits := math.Float64bits(v.n)
		return uint32(bits) ^ uint32(bits>>32)
	case TypeString:
		return v.ref.(*LString).Hash()
	case TypeNil:
		return 0
	default:
		id := v.id()
		return uint32(id) ^ uint32(id>>32)
	}
}

func (v Value) id() uint64 {
	switch ref := v.ref.(type) {
	case *Table:
		return ref.id
	case *Closure:
		return ref.id
	case *goFunction:
		return ref.id
	case *Userdata:
		return ref.id
	case *Thread:
		return ref.id
	default:
		return 0
	}
}

// toNumber converts a number or a numeric string to a number.
func toNumber(v Value) (_ float64, ok bool) {
	switch v.t {
	case TypeNumber:
		return v.n, true
	case TypeString:
		f, err := luanum.ParseNumber(v.ref.(*LString).String())
		return f, err == nil
	default:
		return 0, false
	}
}

// toLString converts a string or a number to a string.
func toLString(v Value) (_ LString, ok bool) {
	switch v.t {
	case TypeString:
		return *v.ref.(*LString), true
	case TypeNumber:
		return NewLString(luanum.Format(v.n)), true
	default:
		return LString{}, false
	}
}

func truncate(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	return int64(f)
}

var globalIDs struct {
	mu sync.Mutex
	n  uint64
}

// nextID returns a new identity for a reference object.
func nextID() uint64 {
	globalIDs.mu.Lock()
	defer globalIDs.mu.Unlock()
	globalIDs.n++
	return globalIDs.n
}
