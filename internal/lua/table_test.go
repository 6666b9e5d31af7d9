// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyTable(t *testing.T) {
	tab := NewTable(0, 0)
	if got := tab.Len(); got != 0 {
		t.Errorf("NewTable(0, 0).Len() = %d; want 0", got)
	}
	if got := tab.Count(); got != 0 {
		t.Errorf("NewTable(0, 0).Count() = %d; want 0", got)
	}
	if got := tab.Get(StringValue("bork")); !got.IsNil() {
		t.Errorf("NewTable(0, 0).Get(\"bork\") = %v; want nil", got)
	}
	if k, v, err := tab.Next(Nil); err != nil || !k.IsNil() || !v.IsNil() {
		t.Errorf("NewTable(0, 0).Next(nil) = %v, %v, %v; want nil, nil, <nil>", k, v, err)
	}

	var nilTable *Table
	if got := nilTable.Get(IntValue(1)); !got.IsNil() {
		t.Errorf("(*Table)(nil).Get(1) = %v; want nil", got)
	}
}

func TestTableRoundTrip(t *testing.T) {
	tab := NewTable(0, 0)
	f := FunctionValue(baseType)
	entries := []struct {
		k, v Value
	}{
		{IntValue(1), StringValue("one")},
		{IntValue(2), StringValue("two")},
		{NumberValue(2.5), BoolValue(true)},
		{IntValue(-1), IntValue(-1)},
		{StringValue("x"), IntValue(42)},
		{StringValue(""), IntValue(0)},
		{BoolValue(false), StringValue("false")},
		{f, StringValue("function")},
		{TableValue(tab), StringValue("self")},
		{NumberValue(math.Inf(1)), StringValue("inf")},
	}
	for _, e := range entries {
		if err := tab.Set(e.k, e.v); err != nil {
			t.Fatalf("Set(%v, %v): %v", e.k, e.v, err)
		}
	}
	for _, e := range entries {
		if got := tab.Get(e.k); !cmp.Equal(got, e.v, valueCompare) {
			t.Errorf("Get(%v) = %v; want %v", e.k, got, e.v)
		}
	}
	if got, want := tab.Count(), len(entries); got != want {
		t.Errorf("Count() = %d; want %d", got, want)
	}
	if got := tab.GetString(NewLString("x")); !cmp.Equal(got, IntValue(42), valueCompare) {
		t.Errorf("GetString(\"x\") = %v; want 42", got)
	}
	if got := tab.GetInt(2); !cmp.Equal(got, StringValue("two"), valueCompare) {
		t.Errorf("GetInt(2) = %v; want \"two\"", got)
	}
	// Float keys with integer values are the same key as integers.
	if got := tab.Get(NumberValue(1.0)); !cmp.Equal(got, StringValue("one"), valueCompare) {
		t.Errorf("Get(1.0) = %v; want \"one\"", got)
	}
	// -0 and 0 are the same key.
	if err := tab.Set(NumberValue(0), StringValue("zero")); err != nil {
		t.Fatal(err)
	}
	if got := tab.Get(NumberValue(math.Copysign(0, -1))); !cmp.Equal(got, StringValue("zero"), valueCompare) {
		t.Errorf("Get(-0) = %v; want \"zero\"", got)
	}
}

func TestTableKeyErrors(t *testing.T) {
	tab := NewTable(0, 0)
	if err := tab.Set(Nil, IntValue(1)); !errors.Is(err, ErrNilKey) {
		t.Errorf("Set(nil, 1) = %v; want %v", err, ErrNilKey)
	}
	if err := tab.Set(NumberValue(math.NaN()), IntValue(1)); !errors.Is(err, ErrNaNKey) {
		t.Errorf("Set(NaN, 1) = %v; want %v", err, ErrNaNKey)
	}
	if got := tab.Get(Nil); !got.IsNil() {
		t.Errorf("Get(nil) = %v; want nil", got)
	}
	if err := tab.Add(IntValue(1), IntValue(1)); err != nil {
		t.Fatal(err)
	}
	if err := tab.Add(IntValue(1), IntValue(2)); err == nil {
		t.Error("Add of existing key did not return an error")
	}
	if err := tab.Resize(1<<31, 0); !errors.Is(err, ErrTableOverflow) {
		t.Errorf("Resize(1<<31, 0) = %v; want %v", err, ErrTableOverflow)
	}
	if err := tab.Resize(0, 1<<31); !errors.Is(err, ErrTableOverflow) {
		t.Errorf("Resize(0, 1<<31) = %v; want %v", err, ErrTableOverflow)
	}
}

func TestTableLen(t *testing.T) {
	tests := []struct {
		name string
		keys []int64
		want int64
	}{
		{name: "Empty", want: 0},
		{name: "Sequence", keys: []int64{1, 2, 3}, want: 3},
		{name: "NoOne", keys: []int64{2, 3}, want: 0},
		{name: "Sparse", keys: []int64{1, 2, 3, 5}, want: 3},
		{name: "Large", keys: seq(1, 100), want: 100},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tab := NewTable(0, 0)
			for _, k := range test.keys {
				if err := tab.SetInt(k, BoolValue(true)); err != nil {
					t.Fatal(err)
				}
			}
			got := tab.Len()
			if got != test.want && !isBorder(tab, got) {
				t.Errorf("Len() = %d; want %d (or another border)", got, test.want)
			}
		})
	}
}

func TestTableBorderInArray(t *testing.T) {
	tab := NewTable(8, 0)
	for i := int64(1); i <= 8; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tab.SetInt(8, Nil); err != nil {
		t.Fatal(err)
	}
	if err := tab.SetInt(4, Nil); err != nil {
		t.Fatal(err)
	}
	if got := tab.Len(); !isBorder(tab, got) {
		t.Errorf("Len() = %d, which is not a border", got)
	}
}

func TestTableRemove(t *testing.T) {
	tab := NewTable(0, 0)
	for _, k := range []string{"a", "b", "c"} {
		if err := tab.SetString(NewLString(k), StringValue(k)); err != nil {
			t.Fatal(err)
		}
	}
	if !tab.Remove(StringValue("b")) {
		t.Error("Remove(\"b\") = false; want true")
	}
	if tab.Remove(StringValue("b")) {
		t.Error("second Remove(\"b\") = true; want false")
	}
	if tab.ContainsKey(StringValue("b")) {
		t.Error("ContainsKey(\"b\") = true after removal")
	}
	if v, ok := tab.TryGetValue(StringValue("a")); !ok || !cmp.Equal(v, StringValue("a"), valueCompare) {
		t.Errorf("TryGetValue(\"a\") = %v, %t; want \"a\", true", v, ok)
	}
	if got := tab.Count(); got != 2 {
		t.Errorf("Count() = %d; want 2", got)
	}
}

func TestTableNextWithDeletion(t *testing.T) {
	tab := NewTable(0, 0)
	want := make(map[string]bool)
	for i := range 20 {
		k := string(rune('a' + i))
		want[k] = true
		if err := tab.SetString(NewLString(k), IntValue(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(1); i <= 5; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}

	// Clear every entry while traversing.
	got := make(map[string]bool)
	numInts := 0
	k := Nil
	for {
		var err error
		k, _, err = tab.Next(k)
		if err != nil {
			t.Fatal("Next:", err)
		}
		if k.IsNil() {
			break
		}
		if s, ok := k.LString(); ok {
			got[s.String()] = true
		} else {
			numInts++
		}
		if err := tab.Set(k, Nil); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("string keys visited (-want +got):\n%s", diff)
	}
	if numInts != 5 {
		t.Errorf("visited %d integer keys; want 5", numInts)
	}
	if n := tab.Count(); n != 0 {
		t.Errorf("Count() = %d after clearing; want 0", n)
	}

	if _, _, err := tab.Next(StringValue("not a key")); err == nil {
		t.Error("Next(\"not a key\") did not return an error")
	}
}

func TestTableAll(t *testing.T) {
	tab := NewTable(0, 0)
	for i := int64(1); i <= 3; i++ {
		if err := tab.SetInt(i, IntValue(i*10)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tab.SetString(NewLString("k"), StringValue("v")); err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for k, v := range tab.All() {
		got[k.String()] = v.String()
	}
	want := map[string]string{
		"1": "10",
		"2": "20",
		"3": "30",
		"k": "v",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("All() (-want +got):\n%s", diff)
	}
}

func TestTableResize(t *testing.T) {
	tab := NewTable(0, 0)
	for i := int64(1); i <= 10; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tab.SetString(NewLString("x"), IntValue(-1)); err != nil {
		t.Fatal(err)
	}

	if err := tab.Resize(4, 16); err != nil {
		t.Fatal(err)
	}
	if got := tab.ArrayCapacity(); got != 4 {
		t.Errorf("ArrayCapacity() = %d; want 4", got)
	}
	if got := tab.NodeCapacity(); got != 16 {
		t.Errorf("NodeCapacity() = %d; want 16", got)
	}
	for i := int64(1); i <= 10; i++ {
		if got := tab.GetInt(i); !cmp.Equal(got, IntValue(i), valueCompare) {
			t.Errorf("after Resize, GetInt(%d) = %v; want %d", i, got, i)
		}
	}
	if got := tab.GetString(NewLString("x")); !cmp.Equal(got, IntValue(-1), valueCompare) {
		t.Errorf("after Resize, GetString(\"x\") = %v; want -1", got)
	}

	// Node capacity is rounded up to a power of two.
	if err := tab.Resize(0, 20); err != nil {
		t.Fatal(err)
	}
	if got := tab.NodeCapacity(); got != 32 {
		t.Errorf("after Resize(0, 20), NodeCapacity() = %d; want 32", got)
	}
}

func TestTablePresizedDoesNotGrow(t *testing.T) {
	tab := NewTable(0, 0)
	if err := tab.Resize(64, 64); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 64; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
		if err := tab.Set(NumberValue(float64(i)+0.5), IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := tab.ArrayCapacity(); got != 64 {
		t.Errorf("ArrayCapacity() = %d; want 64", got)
	}
	if got := tab.NodeCapacity(); got != 64 {
		t.Errorf("NodeCapacity() = %d; want 64", got)
	}
}

func TestTableRehashMovesIntegersToArray(t *testing.T) {
	tab := NewTable(0, 0)
	for i := int64(1); i <= 32; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := tab.ArrayCapacity(); got < 32 {
		t.Errorf("ArrayCapacity() = %d; want >= 32", got)
	}
	if got := tab.Len(); got != 32 {
		t.Errorf("Len() = %d; want 32", got)
	}
}

func TestTableClear(t *testing.T) {
	tab := NewTable(4, 4)
	for i := int64(1); i <= 8; i++ {
		if err := tab.SetInt(i, IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	arrayCap, nodeCap := tab.ArrayCapacity(), tab.NodeCapacity()
	tab.Clear()
	if got := tab.Count(); got != 0 {
		t.Errorf("Count() after Clear = %d; want 0", got)
	}
	if tab.ArrayCapacity() != arrayCap || tab.NodeCapacity() != nodeCap {
		t.Errorf("capacity after Clear = %d, %d; want %d, %d",
			tab.ArrayCapacity(), tab.NodeCapacity(), arrayCap, nodeCap)
	}
	if err := tab.SetInt(3, IntValue(3)); err != nil {
		t.Fatal(err)
	}
	if got := tab.GetInt(3); !cmp.Equal(got, IntValue(3), valueCompare) {
		t.Errorf("GetInt(3) after Clear and Set = %v; want 3", got)
	}

	if err := tab.ClearWithCapacity(2, 3); err != nil {
		t.Fatal(err)
	}
	if got, want := tab.ArrayCapacity(), 2; got != want {
		t.Errorf("ArrayCapacity() after ClearWithCapacity = %d; want %d", got, want)
	}
	if got, want := tab.NodeCapacity(), 4; got != want {
		t.Errorf("NodeCapacity() after ClearWithCapacity = %d; want %d", got, want)
	}
}

func TestTableCollisions(t *testing.T) {
	// Keys whose hashes collide in a small node part
	// exercise the relocation of colliding nodes.
	tab := NewTable(0, 4)
	keys := []Value{
		NumberValue(0.5), NumberValue(1.5), NumberValue(2.5), NumberValue(3.5),
		StringValue("a"), StringValue("b"), StringValue("c"),
	}
	for i, k := range keys {
		if err := tab.Set(k, IntValue(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	for i, k := range keys {
		if got := tab.Get(k); !cmp.Equal(got, IntValue(int64(i)), valueCompare) {
			t.Errorf("Get(%v) = %v; want %d", k, got, i)
		}
	}
}

func isBorder(tab *Table, n int64) bool {
	return (n == 0 || !tab.GetInt(n).IsNil()) && tab.GetInt(n+1).IsNil()
}

func seq(lo, hi int64) []int64 {
	var s []int64
	for i := lo; i <= hi; i++ {
		s = append(s, i)
	}
	return s
}
