// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// TableLibraryName is the conventional identifier for the [table manipulation library].
//
// [table manipulation library]: https://www.lua.org/manual/5.2/manual.html#6.5
const TableLibraryName = "table"

// OpenTable registers the table manipulation library into globals
// as the table named [TableLibraryName].
// Element access in the library is raw,
// but lengths respect the __len metamethod.
func OpenTable(globals *Table) error {
	lib := NewLib(map[string]Function{
		"concat": tableConcat,
		"insert": tableInsert,
		"pack":   tablePack,
		"remove": tableRemove,
		"sort":   tableSort,
		"unpack": tableUnpack,
	})
	if err := globals.SetString(NewLString(TableLibraryName), TableValue(lib)); err != nil {
		return fmt.Errorf("open table library: %v", err)
	}
	return nil
}

// tableLen returns the length of the table at arg,
// as given by the # operator.
func tableLen(ctx context.Context, l *Thread, arg int) (*Table, int64, error) {
	t, err := CheckTable(l, arg)
	if err != nil {
		return nil, 0, err
	}
	v, err := l.length(ctx, TableValue(t))
	if err != nil {
		return nil, 0, err
	}
	n, ok := v.Float64()
	if !ok {
		return nil, 0, NewError(l, "object length is not a number")
	}
	return t, numberToInteger(n), nil
}

func tableConcat(ctx context.Context, l *Thread) (int, error) {
	t, last, err := tableLen(ctx, l, 1)
	if err != nil {
		return 0, err
	}
	separator, err := OptString(l, 2, "")
	if err != nil {
		return 0, err
	}
	first, err := OptInteger(l, 3, 1)
	if err != nil {
		return 0, err
	}
	last, err = OptInteger(l, 4, last)
	if err != nil {
		return 0, err
	}

	sb := new(strings.Builder)
	add := func(i int64) error {
		s, ok := toLString(t.GetInt(i))
		if !ok {
			return NewError(l, "invalid value (at index %d) in table for 'concat'", i)
		}
		sb.WriteString(s.String())
		return nil
	}

	var i int64
	for i = first; i < last; i++ {
		if err := add(i); err != nil {
			return 0, err
		}
		sb.WriteString(separator.String())
	}
	// Split the loop so i can't overflow.
	if i == last {
		if err := add(i); err != nil {
			return 0, err
		}
	}
	return l.Return(StringValue(sb.String())), nil
}

func tableInsert(ctx context.Context, l *Thread) (int, error) {
	t, size, err := tableLen(ctx, l, 1)
	if err != nil {
		return 0, err
	}
	firstEmpty := size + 1

	var position int64
	switch l.Top() {
	case 2:
		position = firstEmpty
	case 3:
		position, err = CheckInteger(l, 2)
		if err != nil {
			return 0, err
		}
		if position < 1 || position > firstEmpty {
			return 0, NewArgError(l, 2, "position out of bounds")
		}
		// Move up elements.
		for i := firstEmpty; i > position; i-- {
			if err := t.SetInt(i, t.GetInt(i-1)); err != nil {
				return 0, NewError(l, "%v", err)
			}
		}
	default:
		return 0, NewError(l, "wrong number of arguments to 'insert'")
	}

	if err := t.SetInt(position, l.Get(l.Top())); err != nil {
		return 0, NewError(l, "%v", err)
	}
	return 0, nil
}

func tablePack(ctx context.Context, l *Thread) (int, error) {
	n := l.Top()
	t := NewTable(n, 1)
	for i, v := range l.GetStackElements(1, n) {
		if err := t.SetInt(int64(i+1), v); err != nil {
			return 0, NewError(l, "%v", err)
		}
	}
	if err := t.SetString(NewLString("n"), IntValue(int64(n))); err != nil {
		return 0, NewError(l, "%v", err)
	}
	return l.Return(TableValue(t)), nil
}

func tableRemove(ctx context.Context, l *Thread) (int, error) {
	t, size, err := tableLen(ctx, l, 1)
	if err != nil {
		return 0, err
	}
	position, err := OptInteger(l, 2, size)
	if err != nil {
		return 0, err
	}
	if position != size && (position < 1 || position > size+1) {
		return 0, NewArgError(l, 2, "position out of bounds")
	}

	removed := t.GetInt(position)
	// Move elements downward.
	for ; position < size; position++ {
		if err := t.SetInt(position, t.GetInt(position+1)); err != nil {
			return 0, NewError(l, "%v", err)
		}
	}
	if err := t.SetInt(position, Nil); err != nil {
		return 0, NewError(l, "%v", err)
	}
	return l.Return(removed), nil
}

func tableUnpack(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	i, err := OptInteger(l, 2, 1)
	if err != nil {
		return 0, err
	}
	var e int64
	if l.Get(3).IsNil() {
		_, e, err = tableLen(ctx, l, 1)
	} else {
		e, err = CheckInteger(l, 3)
	}
	if err != nil {
		return 0, err
	}
	if i > e {
		return 0, nil
	}
	n := uint64(e) - uint64(i)
	if n >= math.MaxInt32 || !l.CheckSpace(int(n+1)) {
		return 0, NewError(l, "too many results to unpack")
	}

	for ; i < e; i++ {
		l.Push(t.GetInt(i))
	}
	// Split last iteration of loop to avoid overflows.
	l.Push(t.GetInt(e))
	return int(n + 1), nil
}

func tableSort(ctx context.Context, l *Thread) (int, error) {
	t, n, err := tableLen(ctx, l, 1)
	if err != nil {
		return 0, err
	}
	if n <= 1 {
		return 0, nil
	}
	if n > math.MaxInt32 {
		return 0, NewArgError(l, 1, "array too big")
	}
	if tp := l.Type(2); tp != TypeNone && tp != TypeNil && tp != TypeFunction {
		return 0, NewTypeError(l, 2, TypeFunction.String())
	}

	sorter := &tableSorter{
		ctx:    ctx,
		l:      l,
		t:      t,
		n:      int(n),
		lessFn: l.Get(2),
	}
	sort.Sort(sorter)
	return 0, sorter.err
}

// tableSorter is the helper type that implements [sort.Interface]
// for [tableSort].
type tableSorter struct {
	ctx    context.Context
	l      *Thread
	t      *Table
	n      int
	lessFn Value
	err    error
}

func (ts *tableSorter) Len() int {
	return ts.n
}

func (ts *tableSorter) Less(i, j int) bool {
	if ts.err != nil {
		// If we errored out, pretend everything is sorted.
		return i < j
	}
	var less bool
	less, ts.err = ts.l.Less(ts.ctx, ts.t.GetInt(int64(1+i)), ts.t.GetInt(int64(1+j)), ts.lessFn)
	if ts.err != nil {
		return i < j
	}
	return less
}

func (ts *tableSorter) Swap(i, j int) {
	if ts.err != nil {
		return
	}
	vi, vj := ts.t.GetInt(int64(1+i)), ts.t.GetInt(int64(1+j))
	if ts.err = ts.t.SetInt(int64(1+i), vj); ts.err != nil {
		return
	}
	ts.err = ts.t.SetInt(int64(1+j), vi)
}
