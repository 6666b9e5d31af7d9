// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/henchmeninteractive/henchlua/internal/testcontext"
)

// newSequence returns a new table with the given values at 1, 2, ….
func newSequence(tb testing.TB, vals ...Value) *Table {
	tb.Helper()
	t := NewTable(len(vals), 0)
	for i, v := range vals {
		if err := t.SetInt(int64(i+1), v); err != nil {
			tb.Fatal(err)
		}
	}
	return t
}

// sequenceValues returns the values of t at 1 through n.
func sequenceValues(t *Table, n int64) []Value {
	vals := make([]Value, 0, n)
	for i := int64(1); i <= n; i++ {
		vals = append(vals, t.GetInt(i))
	}
	return vals
}

func TestTableLibrary(t *testing.T) {
	l := newLibThread(t, nil)

	letters := newSequence(t, StringValue("a"), StringValue("b"), StringValue("c"))
	lengthMeta := NewTable(0, 1)
	if err := lengthMeta.SetString(NewLString("__len"), constFunction(IntValue(2))); err != nil {
		t.Fatal(err)
	}
	shortened := newSequence(t, IntValue(1), IntValue(2), IntValue(3))
	shortened.SetMetatable(lengthMeta)

	runLibraryTests(t, l, []libraryTest{
		{
			name: "Concat",
			fn:   "table.concat",
			args: []Value{TableValue(newSequence(t, IntValue(1), IntValue(2), IntValue(3))), StringValue(", ")},
			want: []Value{StringValue("1, 2, 3")},
		},
		{
			name: "ConcatRange",
			fn:   "table.concat",
			args: []Value{TableValue(letters), StringValue("-"), IntValue(2), IntValue(3)},
			want: []Value{StringValue("b-c")},
		},
		{
			name: "ConcatEmpty",
			fn:   "table.concat",
			args: []Value{TableValue(NewTable(0, 0))},
			want: []Value{StringValue("")},
		},
		{
			name: "ConcatLengthMetamethod",
			fn:   "table.concat",
			args: []Value{TableValue(shortened)},
			want: []Value{StringValue("12")},
		},
		{
			name:    "ConcatInvalidValue",
			fn:      "table.concat",
			args:    []Value{TableValue(newSequence(t, IntValue(1), TableValue(letters), IntValue(3)))},
			wantErr: "invalid value (at index 2) in table for 'concat'",
		},
		{
			name:    "ConcatNotTable",
			fn:      "table.concat",
			args:    []Value{StringValue("abc")},
			wantErr: "bad argument #1 to 'concat' (table expected, got string)",
		},
		{
			name:    "InsertWrongArguments",
			fn:      "table.insert",
			args:    []Value{TableValue(NewTable(0, 0))},
			wantErr: "wrong number of arguments to 'insert'",
		},
		{
			name:    "InsertTooManyArguments",
			fn:      "table.insert",
			args:    []Value{TableValue(NewTable(0, 0)), IntValue(1), IntValue(2), IntValue(3)},
			wantErr: "wrong number of arguments to 'insert'",
		},
		{
			name:    "InsertOutOfBounds",
			fn:      "table.insert",
			args:    []Value{TableValue(newSequence(t, IntValue(1))), IntValue(5), IntValue(2)},
			wantErr: "bad argument #2 to 'insert' (position out of bounds)",
		},
		{
			name: "RemoveEmpty",
			fn:   "table.remove",
			args: []Value{TableValue(NewTable(0, 0))},
			want: []Value{Nil},
		},
		{
			name:    "RemoveOutOfBounds",
			fn:      "table.remove",
			args:    []Value{TableValue(newSequence(t, IntValue(1))), IntValue(5)},
			wantErr: "bad argument #2 to 'remove' (position out of bounds)",
		},
		{
			name: "Unpack",
			fn:   "table.unpack",
			args: []Value{TableValue(letters)},
			want: []Value{StringValue("a"), StringValue("b"), StringValue("c")},
		},
		{
			name: "UnpackStart",
			fn:   "table.unpack",
			args: []Value{TableValue(letters), IntValue(2)},
			want: []Value{StringValue("b"), StringValue("c")},
		},
		{
			name: "UnpackPastEnd",
			fn:   "table.unpack",
			args: []Value{TableValue(letters), IntValue(2), IntValue(5)},
			want: []Value{StringValue("b"), StringValue("c"), Nil, Nil},
		},
		{
			name: "UnpackEmptyRange",
			fn:   "table.unpack",
			args: []Value{TableValue(letters), IntValue(3), IntValue(1)},
			want: []Value{},
		},
		{
			name:    "UnpackTooMany",
			fn:      "table.unpack",
			args:    []Value{TableValue(letters), IntValue(1), IntValue(1 << 40)},
			wantErr: "too many results to unpack",
		},
		{
			name:    "SortBadComparator",
			fn:      "table.sort",
			args:    []Value{TableValue(newSequence(t, IntValue(2), IntValue(1))), IntValue(5)},
			wantErr: "bad argument #2 to 'sort' (function expected, got number)",
		},
	})
}

func TestTableInsert(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	l := newLibThread(t, nil)

	tab := newSequence(t, IntValue(1), IntValue(2), IntValue(3))
	if _, err := callLibrary(ctx, l, "table.insert", TableValue(tab), IntValue(4)); err != nil {
		t.Fatal(err)
	}
	if _, err := callLibrary(ctx, l, "table.insert", TableValue(tab), IntValue(1), IntValue(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := callLibrary(ctx, l, "table.insert", TableValue(tab), IntValue(6), IntValue(5)); err != nil {
		t.Fatal(err)
	}
	want := []Value{IntValue(0), IntValue(1), IntValue(2), IntValue(3), IntValue(4), IntValue(5)}
	if diff := cmp.Diff(want, sequenceValues(tab, 6), libCompare); diff != "" {
		t.Errorf("table after inserts (-want +got):\n%s", diff)
	}
	if got := tab.Len(); got != 6 {
		t.Errorf("#t = %d; want 6", got)
	}
}

func TestTableRemoveFunction(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	l := newLibThread(t, nil)

	tab := newSequence(t, StringValue("a"), StringValue("b"), StringValue("c"), StringValue("d"))
	got, err := callLibrary(ctx, l, "table.remove", TableValue(tab))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{StringValue("d")}, got, libCompare); diff != "" {
		t.Errorf("table.remove(t) (-want +got):\n%s", diff)
	}
	got, err = callLibrary(ctx, l, "table.remove", TableValue(tab), IntValue(1))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{StringValue("a")}, got, libCompare); diff != "" {
		t.Errorf("table.remove(t, 1) (-want +got):\n%s", diff)
	}
	want := []Value{StringValue("b"), StringValue("c"), Nil}
	if diff := cmp.Diff(want, sequenceValues(tab, 3), libCompare); diff != "" {
		t.Errorf("table after removes (-want +got):\n%s", diff)
	}
}

func TestTablePack(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	l := newLibThread(t, nil)

	tests := []struct {
		name string
		args []Value
	}{
		{name: "Empty"},
		{name: "Values", args: []Value{IntValue(1), StringValue("x")}},
		{name: "Holes", args: []Value{IntValue(1), Nil, IntValue(3), Nil}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := callLibrary(ctx, l, "table.pack", test.args...)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].Table() == nil {
				t.Fatalf("table.pack(...) = %v; want table", got)
			}
			packed := got[0].Table()
			n := int64(len(test.args))
			if got, want := packed.GetString(NewLString("n")), IntValue(n); !RawEqual(got, want) {
				t.Errorf("t.n = %v; want %v", got, want)
			}
			if diff := cmp.Diff(test.args, sequenceValues(packed, n), libCompare); diff != "" {
				t.Errorf("packed values (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTableSort(t *testing.T) {
	greater := FunctionValue(func(ctx context.Context, l *Thread) (int, error) {
		a, _ := l.Get(1).Float64()
		b, _ := l.Get(2).Float64()
		return l.Return(BoolValue(a > b)), nil
	})

	tests := []struct {
		name   string
		values []Value
		lessFn Value
		want   []Value
	}{
		{
			name:   "Numbers",
			values: []Value{IntValue(5), IntValue(2), NumberValue(3.5), IntValue(-1), IntValue(4)},
			want:   []Value{IntValue(-1), IntValue(2), NumberValue(3.5), IntValue(4), IntValue(5)},
		},
		{
			name:   "Strings",
			values: []Value{StringValue("pear"), StringValue("apple"), StringValue("fig")},
			want:   []Value{StringValue("apple"), StringValue("fig"), StringValue("pear")},
		},
		{
			name:   "Comparator",
			values: []Value{IntValue(1), IntValue(3), IntValue(2)},
			lessFn: greater,
			want:   []Value{IntValue(3), IntValue(2), IntValue(1)},
		},
		{
			name:   "Single",
			values: []Value{IntValue(1)},
			want:   []Value{IntValue(1)},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			l := newLibThread(t, nil)

			tab := newSequence(t, test.values...)
			args := []Value{TableValue(tab)}
			if !test.lessFn.IsNil() {
				args = append(args, test.lessFn)
			}
			if _, err := callLibrary(ctx, l, "table.sort", args...); err != nil {
				t.Fatal(err)
			}
			got := sequenceValues(tab, int64(len(test.values)))
			if diff := cmp.Diff(test.want, got, libCompare); diff != "" {
				t.Errorf("sorted (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("Incomparable", func(t *testing.T) {
		ctx, cancel := testcontext.New(t)
		defer cancel()
		l := newLibThread(t, nil)

		tab := newSequence(t, IntValue(1), StringValue("x"), IntValue(2))
		_, err := callLibrary(ctx, l, "table.sort", TableValue(tab))
		if err == nil {
			t.Fatal("table.sort did not return an error")
		}
		if got := err.Error(); !strings.HasPrefix(got, "attempt to compare") {
			t.Errorf("error = %q; want comparison error", got)
		}
	})

	t.Run("ComparatorError", func(t *testing.T) {
		ctx, cancel := testcontext.New(t)
		defer cancel()
		l := newLibThread(t, nil)

		tab := newSequence(t, IntValue(3), IntValue(1), IntValue(2))
		_, err := callLibrary(ctx, l, "table.sort", TableValue(tab), raiseFunction("bad compare"))
		if err == nil {
			t.Fatal("table.sort did not return an error")
		}
		if got, want := err.Error(), "bad compare"; got != want {
			t.Errorf("error = %q; want %q", got, want)
		}
	})
}
