// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestThreadStack(t *testing.T) {
	l := new(Thread)
	if got := l.Top(); got != 0 {
		t.Fatalf("new(Thread).Top() = %d; want 0", got)
	}

	l.PushValues(IntValue(1), IntValue(2), IntValue(3))
	if got := l.Top(); got != 3 {
		t.Errorf("Top() = %d; want 3", got)
	}
	if got := l.Get(-1); !cmp.Equal(got, IntValue(3), valueCompare) {
		t.Errorf("Get(-1) = %v; want 3", got)
	}
	if got := l.Get(1); !cmp.Equal(got, IntValue(1), valueCompare) {
		t.Errorf("Get(1) = %v; want 1", got)
	}
	if got := l.Get(4); !got.IsNil() {
		t.Errorf("Get(4) = %v; want nil", got)
	}
	if got := l.Type(4); got != TypeNone {
		t.Errorf("Type(4) = %v; want %v", got, TypeNone)
	}
	if got := l.AbsIndex(-1); got != 3 {
		t.Errorf("AbsIndex(-1) = %d; want 3", got)
	}

	l.Insert(1, StringValue("first"))
	l.Insert(l.Top()+1, StringValue("last"))
	l.Remove(3)
	l.Set(2, BoolValue(true))
	want := []Value{StringValue("first"), BoolValue(true), IntValue(3), StringValue("last")}
	if diff := cmp.Diff(want, l.GetStackElements(1, l.Top()), valueCompare); diff != "" {
		t.Errorf("stack (-want +got):\n%s", diff)
	}

	if got := l.PopValue(); !cmp.Equal(got, StringValue("last"), valueCompare) {
		t.Errorf("PopValue() = %v; want \"last\"", got)
	}
	l.SetTop(5)
	if got := l.Top(); got != 5 {
		t.Errorf("after SetTop(5), Top() = %d; want 5", got)
	}
	if got := l.Get(5); !got.IsNil() {
		t.Errorf("after SetTop(5), Get(5) = %v; want nil", got)
	}
	l.SetTop(-3)
	if got := l.Top(); got != 3 {
		t.Errorf("after SetTop(-3), Top() = %d; want 3", got)
	}
	l.Pop(3)
	if got := l.Top(); got != 0 {
		t.Errorf("after Pop(3), Top() = %d; want 0", got)
	}
	if got := l.GetStackElements(1, 0); got == nil || len(got) != 0 {
		t.Errorf("GetStackElements(1, 0) = %#v; want []Value{}", got)
	}
}

func TestThreadStackGrowth(t *testing.T) {
	l := NewThread()
	const n = 1000
	for i := range n {
		l.Push(IntValue(int64(i)))
	}
	if got := l.Top(); got != n {
		t.Fatalf("Top() = %d; want %d", got, n)
	}
	for i := range n {
		if got := l.Get(i + 1); !cmp.Equal(got, IntValue(int64(i)), valueCompare) {
			t.Fatalf("Get(%d) = %v; want %d", i+1, got, i)
		}
	}
	if !l.CheckSpace(100) {
		t.Error("CheckSpace(100) = false")
	}
	if l.CheckSpace(MaxStack) {
		t.Errorf("CheckSpace(%d) = true; want false", MaxStack)
	}
}

func TestThreadStackPanics(t *testing.T) {
	tests := []struct {
		name string
		f    func(l *Thread)
	}{
		{"Pop", func(l *Thread) { l.Pop(2) }},
		{"Set", func(l *Thread) { l.Set(2, Nil) }},
		{"GetZero", func(l *Thread) { l.Get(0) }},
		{"Remove", func(l *Thread) { l.Remove(-2) }},
		{"SetTop", func(l *Thread) { l.SetTop(-3) }},
		{"Call", func(l *Thread) { l.Call(t.Context(), 1, 0) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := NewThread()
			l.Push(IntValue(1))
			defer func() {
				if recover() == nil {
					t.Errorf("did not panic")
				}
			}()
			test.f(l)
		})
	}
}

func TestTypeMetatable(t *testing.T) {
	l := NewThread()
	mt := NewTable(0, 1)
	l.SetTypeMetatable(TypeNumber, mt)
	if got := l.Metatable(IntValue(1)); got != mt {
		t.Errorf("Metatable(1) = %v; want %v", got, mt)
	}
	if got := l.Metatable(StringValue("x")); got != nil {
		t.Errorf("Metatable(\"x\") = %v; want <nil>", got)
	}
	if got := NewThread().Metatable(IntValue(1)); got != nil {
		t.Errorf("other thread's Metatable(1) = %v; want <nil>", got)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("SetTypeMetatable(TypeTable, ...) did not panic")
			}
		}()
		l.SetTypeMetatable(TypeTable, mt)
	}()
}
