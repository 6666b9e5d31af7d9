// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"

	"github.com/henchmeninteractive/henchlua/internal/luanum"
)

// ToString converts the Lua value at the given index to a string
// in a reasonable format.
// If the value has a metatable with a __tostring field,
// then ToString calls the corresponding metamethod with the value as argument,
// and uses the result of the call as its result.
func ToString(ctx context.Context, l *Thread, idx int) (LString, error) {
	return ToLString(ctx, l, l.Get(idx))
}

// ToLString converts v to a string like [ToString].
func ToLString(ctx context.Context, l *Thread, v Value) (LString, error) {
	l.init()
	if tm := l.Metafield(v, "__tostring"); !tm.IsNil() {
		result, err := l.callMetamethod(ctx, tm, 1, v)
		if err != nil {
			return LString{}, err
		}
		s, ok := result.LString()
		if !ok {
			return LString{}, NewError(l, "'__tostring' must return a string")
		}
		return s, nil
	}
	return NewLString(v.String()), nil
}

// CheckAny returns an error if the function does not have an argument of any type
// (including nil) at position arg.
func CheckAny(l *Thread, arg int) error {
	if l.Type(arg) == TypeNone {
		return NewArgError(l, arg, "value expected")
	}
	return nil
}

// CheckType returns an error if the argument arg's type is not tp.
func CheckType(l *Thread, arg int, tp Type) error {
	if got := l.Type(arg); got != tp {
		return NewTypeError(l, arg, tp.String())
	}
	return nil
}

// CheckNumber checks whether the function argument arg is a number
// (or a string convertible to a number) and returns it.
func CheckNumber(l *Thread, arg int) (float64, error) {
	n, ok := toNumber(l.Get(arg))
	if !ok {
		return 0, NewTypeError(l, arg, TypeNumber.String())
	}
	return n, nil
}

// OptNumber returns the number at arg,
// or def if the argument is absent or nil.
func OptNumber(l *Thread, arg int, def float64) (float64, error) {
	if l.Get(arg).IsNil() {
		return def, nil
	}
	return CheckNumber(l, arg)
}

// CheckInteger checks whether the function argument arg is a number
// (or a string convertible to a number)
// and returns it truncated to an integer.
func CheckInteger(l *Thread, arg int) (int64, error) {
	n, err := CheckNumber(l, arg)
	if err != nil {
		return 0, err
	}
	return numberToInteger(n), nil
}

// OptInteger returns the integer at arg,
// or def if the argument is absent or nil.
func OptInteger(l *Thread, arg int, def int64) (int64, error) {
	if l.Get(arg).IsNil() {
		return def, nil
	}
	return CheckInteger(l, arg)
}

func numberToInteger(n float64) int64 {
	switch {
	case math.IsNaN(n):
		return 0
	case n >= math.MaxInt64:
		return math.MaxInt64
	case n <= math.MinInt64:
		return math.MinInt64
	}
	if i, ok := luanum.ToInteger(n); ok {
		return i
	}
	return int64(n)
}

// CheckString checks whether the function argument arg is a string
// (or a number, which is converted) and returns it.
func CheckString(l *Thread, arg int) (LString, error) {
	s, ok := toLString(l.Get(arg))
	if !ok {
		return LString{}, NewTypeError(l, arg, TypeString.String())
	}
	return s, nil
}

// OptString returns the string at arg,
// or def if the argument is absent or nil.
func OptString(l *Thread, arg int, def string) (LString, error) {
	if l.Get(arg).IsNil() {
		return NewLString(def), nil
	}
	return CheckString(l, arg)
}

// CheckTable checks whether the function argument arg is a table and returns it.
func CheckTable(l *Thread, arg int) (*Table, error) {
	t := l.Get(arg).Table()
	if t == nil {
		return nil, NewTypeError(l, arg, TypeTable.String())
	}
	return t, nil
}

// SetFuncs registers the functions in funcs into t,
// naming them by their keys.
func SetFuncs(t *Table, funcs map[string]Function) error {
	for name, f := range funcs {
		if err := t.SetString(NewLString(name), NamedFunctionValue(name, f)); err != nil {
			return fmt.Errorf("register %s: %v", name, err)
		}
	}
	return nil
}

// NewLib returns a new table holding the functions in funcs.
func NewLib(funcs map[string]Function) *Table {
	t := NewTable(0, len(funcs))
	if err := SetFuncs(t, funcs); err != nil {
		panic(err)
	}
	return t
}
