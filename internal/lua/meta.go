// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"strings"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

var tagMethodNames [luacode.TagMethodCall + 1]LString

func init() {
	for tm := range tagMethodNames {
		tagMethodNames[tm] = NewLString(luacode.TagMethod(tm).String())
	}
}

// metamethod returns the metamethod for event in v's metatable
// or nil if there is none.
func (l *Thread) metamethod(v Value, event luacode.TagMethod) Value {
	return l.Metatable(v).GetString(tagMethodNames[event])
}

// Metafield returns the field named event from the metatable of v
// or nil if v has no metatable or the metatable does not have the field.
func (l *Thread) Metafield(v Value, event string) Value {
	l.init()
	return l.Metatable(v).GetString(NewLString(event))
}

// callMetamethod calls f with args in scratch space above the current frame
// and returns its first result.
// The top of the stack is left unchanged.
func (l *Thread) callMetamethod(ctx context.Context, f Value, numResults int, args ...Value) (Value, error) {
	oldTop := l.top
	base := l.top
	if l.ci.isLua() && l.ci.top > base {
		base = l.ci.top
	}
	if err := l.grow(base + 1 + len(args)); err != nil {
		return Value{}, l.runtimeError("stack overflow")
	}
	l.stack[base] = f
	copy(l.stack[base+1:], args)
	l.top = base + 1 + len(args)
	err := l.reenter(ctx, base, len(args), numResults)
	var result Value
	if err == nil {
		if numResults > 0 {
			result = l.stack[base]
		}
		clear(l.stack[base:l.top])
	}
	l.top = oldTop
	return result, err
}

// GetTable returns the value of t[k],
// calling the __index metamethod if necessary.
func (l *Thread) GetTable(ctx context.Context, t, k Value) (Value, error) {
	l.init()
	return l.index(ctx, t, k)
}

func (l *Thread) index(ctx context.Context, t, k Value) (Value, error) {
	for range MaxMtLoop {
		var tm Value
		if tbl, ok := t.ref.(*Table); ok {
			v := tbl.Get(k)
			if !v.IsNil() {
				return v, nil
			}
			tm = tbl.meta.GetString(tagMethodNames[luacode.TagMethodIndex])
			if tm.IsNil() {
				return Value{}, nil
			}
		} else {
			tm = l.metamethod(t, luacode.TagMethodIndex)
			if tm.IsNil() {
				return Value{}, l.typeError(t, "index")
			}
		}
		if tm.t == TypeFunction {
			return l.callMetamethod(ctx, tm, 1, t, k)
		}
		t = tm
	}
	return Value{}, l.runtimeError("very long metatable __index cycle")
}

// SetTable performs t[k] = v,
// calling the __newindex metamethod if necessary.
func (l *Thread) SetTable(ctx context.Context, t, k, v Value) error {
	l.init()
	return l.setIndex(ctx, t, k, v)
}

func (l *Thread) setIndex(ctx context.Context, t, k, v Value) error {
	for range MaxMtLoop {
		var tm Value
		if tbl, ok := t.ref.(*Table); ok {
			if p := tbl.find(k); p != nil && !p.IsNil() {
				*p = v
				return nil
			}
			tm = tbl.meta.GetString(tagMethodNames[luacode.TagMethodNewIndex])
			if tm.IsNil() {
				if err := tbl.Set(k, v); err != nil {
					return l.runtimeError("%v", err)
				}
				return nil
			}
		} else {
			tm = l.metamethod(t, luacode.TagMethodNewIndex)
			if tm.IsNil() {
				return l.typeError(t, "index")
			}
		}
		if tm.t == TypeFunction {
			_, err := l.callMetamethod(ctx, tm, 0, t, k, v)
			return err
		}
		t = tm
	}
	return l.runtimeError("very long metatable __newindex cycle")
}

// Arithmetic performs an arithmetic operation on two values,
// converting numeric strings to numbers
// and calling metamethods for operands that are not numbers.
// For unary operators, v2 is ignored.
func (l *Thread) Arithmetic(ctx context.Context, op luacode.ArithmeticOperator, v1, v2 Value) (Value, error) {
	l.init()
	if op.IsUnary() {
		v2 = v1
	}
	return l.arith(ctx, op, v1, v2)
}

func (l *Thread) arith(ctx context.Context, op luacode.ArithmeticOperator, v1, v2 Value) (Value, error) {
	if n1, ok := toNumber(v1); ok {
		if n2, ok := toNumber(v2); ok {
			return NumberValue(luacode.Arithmetic(op, n1, n2)), nil
		}
	}
	tm := l.binaryMetamethod(v1, v2, op.TagMethod())
	if tm.IsNil() {
		return Value{}, l.arithError(v1, v2)
	}
	return l.callMetamethod(ctx, tm, 1, v1, v2)
}

func (l *Thread) binaryMetamethod(v1, v2 Value, event luacode.TagMethod) Value {
	tm := l.metamethod(v1, event)
	if tm.IsNil() {
		tm = l.metamethod(v2, event)
	}
	return tm
}

// Equal reports whether v1 == v2 in Lua,
// calling the __eq metamethod for tables and userdata if necessary.
func (l *Thread) Equal(ctx context.Context, v1, v2 Value) (bool, error) {
	l.init()
	return l.equal(ctx, v1, v2)
}

func (l *Thread) equal(ctx context.Context, v1, v2 Value) (bool, error) {
	if v1.t != v2.t {
		return false, nil
	}
	if v1.t != TypeTable && v1.t != TypeUserdata || v1.ref == v2.ref {
		return RawEqual(v1, v2), nil
	}
	tm := l.equalMetamethod(v1, v2)
	if tm.IsNil() {
		return false, nil
	}
	result, err := l.callMetamethod(ctx, tm, 1, v1, v2)
	return result.ToBool(), err
}

// equalMetamethod returns the __eq metamethod for v1 and v2
// if both values have the same one.
func (l *Thread) equalMetamethod(v1, v2 Value) Value {
	mt1 := l.Metatable(v1)
	tm1 := mt1.GetString(tagMethodNames[luacode.TagMethodEq])
	if tm1.IsNil() {
		return Value{}
	}
	mt2 := l.Metatable(v2)
	if mt1 == mt2 {
		return tm1
	}
	tm2 := mt2.GetString(tagMethodNames[luacode.TagMethodEq])
	if !RawEqual(tm1, tm2) {
		return Value{}
	}
	return tm1
}

// Less reports whether v1 < v2.
// If lessFn is not nil, it is called with v1 and v2
// and its result is converted to a boolean.
// Otherwise, the Lua < operator is used,
// which may call the __lt metamethod.
func (l *Thread) Less(ctx context.Context, v1, v2, lessFn Value) (bool, error) {
	l.init()
	if lessFn.IsNil() {
		return l.lessThan(ctx, v1, v2)
	}
	result, err := l.callMetamethod(ctx, lessFn, 1, v1, v2)
	return result.ToBool(), err
}

func (l *Thread) lessThan(ctx context.Context, v1, v2 Value) (bool, error) {
	if v1.t == TypeNumber && v2.t == TypeNumber {
		return v1.n < v2.n, nil
	}
	if v1.t == TypeString && v2.t == TypeString {
		return v1.ref.(*LString).CompareOrdinal(*v2.ref.(*LString)) < 0, nil
	}
	tm := l.binaryMetamethod(v1, v2, luacode.TagMethodLT)
	if tm.IsNil() {
		return false, l.compareError(v1, v2)
	}
	result, err := l.callMetamethod(ctx, tm, 1, v1, v2)
	return result.ToBool(), err
}

// LessEqual reports whether v1 <= v2 in Lua.
func (l *Thread) LessEqual(ctx context.Context, v1, v2 Value) (bool, error) {
	l.init()
	return l.lessEqual(ctx, v1, v2)
}

func (l *Thread) lessEqual(ctx context.Context, v1, v2 Value) (bool, error) {
	if v1.t == TypeNumber && v2.t == TypeNumber {
		return v1.n <= v2.n, nil
	}
	if v1.t == TypeString && v2.t == TypeString {
		return v1.ref.(*LString).CompareOrdinal(*v2.ref.(*LString)) <= 0, nil
	}
	if tm := l.binaryMetamethod(v1, v2, luacode.TagMethodLE); !tm.IsNil() {
		result, err := l.callMetamethod(ctx, tm, 1, v1, v2)
		return result.ToBool(), err
	}
	if tm := l.binaryMetamethod(v2, v1, luacode.TagMethodLT); !tm.IsNil() {
		result, err := l.callMetamethod(ctx, tm, 1, v2, v1)
		return !result.ToBool(), err
	}
	return false, l.compareError(v1, v2)
}

// Len returns the length of v as defined by the Lua # operator,
// calling the __len metamethod if necessary.
func (l *Thread) Len(ctx context.Context, v Value) (Value, error) {
	l.init()
	return l.length(ctx, v)
}

func (l *Thread) length(ctx context.Context, v Value) (Value, error) {
	var tm Value
	switch ref := v.ref.(type) {
	case *LString:
		return IntValue(int64(ref.Len())), nil
	case *Table:
		tm = ref.meta.GetString(tagMethodNames[luacode.TagMethodLen])
		if tm.IsNil() {
			return IntValue(ref.Len()), nil
		}
	default:
		tm = l.metamethod(v, luacode.TagMethodLen)
		if tm.IsNil() {
			return Value{}, l.typeError(v, "get length of")
		}
	}
	return l.callMetamethod(ctx, tm, 1, v, Value{})
}

// Concat concatenates the n values at the top of the stack,
// pops them, and leaves the result on the top.
// If n is 1, the result is the single value on the stack
// (that is, the function does nothing);
// if n is 0, the result is the empty string.
// Concatenation follows the usual semantics of Lua,
// including string coercion of numbers and the __concat metamethod.
func (l *Thread) Concat(ctx context.Context, n int) error {
	l.init()
	if n < 0 || n > l.top-l.ci.base {
		panic("lua: not enough elements to concatenate")
	}
	if n == 0 {
		l.Push(StringValue(""))
		return nil
	}
	return l.concat(ctx, n)
}

func (l *Thread) concat(ctx context.Context, total int) error {
	for total > 1 {
		top := l.top
		n := 2
		v1, v2 := l.stack[top-2], l.stack[top-1]
		_, ok1 := toLString(v1)
		_, ok2 := toLString(v2)
		if !ok1 || !ok2 {
			tm := l.binaryMetamethod(v1, v2, luacode.TagMethodConcat)
			if tm.IsNil() {
				return l.concatError(v1, v2)
			}
			result, err := l.callMetamethod(ctx, tm, 1, v1, v2)
			if err != nil {
				return err
			}
			l.stack[top-2] = result
		} else {
			for n < total {
				if _, ok := toLString(l.stack[top-n-1]); !ok {
					break
				}
				n++
			}
			sb := new(strings.Builder)
			for _, v := range l.stack[top-n : top] {
				s, _ := toLString(v)
				sb.WriteString(s.String())
			}
			l.stack[top-n] = StringValue(sb.String())
		}
		total -= n - 1
		clear(l.stack[top-n+1 : top])
		l.top -= n - 1
	}
	return nil
}
