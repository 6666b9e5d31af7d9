// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"testing"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   ArithmeticOperator
		v1   float64
		v2   float64
		want float64
	}{
		{Add, 40, 2, 42},
		{Subtract, 40, 2, 38},
		{Multiply, 6, 7, 42},
		{Divide, 7, 2, 3.5},
		{Divide, 1, 0, math.Inf(1)},
		{Divide, -1, 0, math.Inf(-1)},
		{Modulo, 5, 3, 2},
		{Modulo, -5, 3, 1},
		{Modulo, 5, -3, -1},
		{Modulo, 5.5, 2, 1.5},
		{Power, 2, 10, 1024},
		{Power, 3, 2, 9},
		{Power, 4, 0.5, 2},
		{UnaryMinus, 42, 0, -42},
	}
	for _, test := range tests {
		if got := Arithmetic(test.op, test.v1, test.v2); got != test.want {
			t.Errorf("Arithmetic(%v, %g, %g) = %g; want %g", test.op, test.v1, test.v2, got, test.want)
		}
	}
}

func TestArithmeticNaN(t *testing.T) {
	tests := []struct {
		op ArithmeticOperator
		v1 float64
		v2 float64
	}{
		{Divide, 0, 0},
		{Modulo, 1, 0},
		{Add, math.Inf(1), math.Inf(-1)},
	}
	for _, test := range tests {
		if got := Arithmetic(test.op, test.v1, test.v2); !math.IsNaN(got) {
			t.Errorf("Arithmetic(%v, %g, %g) = %g; want NaN", test.op, test.v1, test.v2, got)
		}
	}
}

func TestTagMethodArithmeticOperator(t *testing.T) {
	for op := Add; op.isValid(); op++ {
		tm := op.TagMethod()
		got, ok := tm.ArithmeticOperator()
		if got != op || !ok {
			t.Errorf("%v.ArithmeticOperator() = %v, %t; want %v, true", tm, got, ok, op)
		}
	}
	if got, ok := TagMethodIndex.ArithmeticOperator(); ok {
		t.Errorf("%v.ArithmeticOperator() = %v, true; want _, false", TagMethodIndex, got)
	}
	if got, want := TagMethodConcat.String(), "__concat"; got != want {
		t.Errorf("TagMethodConcat.String() = %q; want %q", got, want)
	}
}
