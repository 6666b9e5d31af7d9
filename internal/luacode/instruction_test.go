// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "testing"

func TestABCInstruction(t *testing.T) {
	i := ABCInstruction(OpAdd, 3, RKConstant(7), 511)
	if got := i.OpCode(); got != OpAdd {
		t.Errorf("OpCode() = %v; want %v", got, OpAdd)
	}
	if got := i.ArgA(); got != 3 {
		t.Errorf("ArgA() = %d; want 3", got)
	}
	if got := i.ArgB(); !IsConstant(got) || ConstantIndex(got) != 7 {
		t.Errorf("ArgB() = %#x; want constant 7", got)
	}
	if got := i.ArgC(); got != 511 {
		t.Errorf("ArgC() = %d; want 511", got)
	}
	if got := i.ArgBx(); got != 0 {
		t.Errorf("ArgBx() = %d; want 0 (not an ABx instruction)", got)
	}
}

func TestABCInstructionEncoding(t *testing.T) {
	// Values checked against luac 5.2 output.
	tests := []struct {
		i    Instruction
		want uint32
	}{
		{ABCInstruction(OpReturn, 0, 1, 0), 0x0080001f},
		{ABCInstruction(OpReturn, 0, 2, 0), 0x0100001f},
		{ABCInstruction(OpMove, 1, 0, 0), 0x00000040},
	}
	for _, test := range tests {
		if uint32(test.i) != test.want {
			t.Errorf("%v = %#08x; want %#08x", test.i, uint32(test.i), test.want)
		}
	}
}

func TestABxInstruction(t *testing.T) {
	tests := []struct {
		op   OpCode
		a    uint8
		bx   int32
		mode OpMode
	}{
		{OpLoadK, 0, 0, OpModeABx},
		{OpLoadK, 255, maxArgBx, OpModeABx},
		{OpClosure, 2, 17, OpModeABx},
		{OpJMP, 0, -1, OpModeAsBx},
		{OpJMP, 1, 131071, OpModeAsBx},
		{OpForPrep, 4, -131071, OpModeAsBx},
	}
	for _, test := range tests {
		i := ABxInstruction(test.op, test.a, test.bx)
		if got := i.OpCode(); got != test.op {
			t.Errorf("ABxInstruction(%v, %d, %d).OpCode() = %v", test.op, test.a, test.bx, got)
		}
		if got := i.OpCode().OpMode(); got != test.mode {
			t.Errorf("%v.OpMode() = %v; want %v", test.op, got, test.mode)
		}
		if got := i.ArgA(); got != test.a {
			t.Errorf("ABxInstruction(%v, %d, %d).ArgA() = %d", test.op, test.a, test.bx, got)
		}
		if got := i.ArgBx(); got != test.bx {
			t.Errorf("ABxInstruction(%v, %d, %d).ArgBx() = %d", test.op, test.a, test.bx, got)
		}
	}
}

func TestExtraArgument(t *testing.T) {
	i := ExtraArgument(maxArgAx)
	if got := i.OpCode(); got != OpExtraArg {
		t.Errorf("OpCode() = %v; want %v", got, OpExtraArg)
	}
	if got := i.ArgAx(); got != maxArgAx {
		t.Errorf("ArgAx() = %d; want %d", got, maxArgAx)
	}
}

func TestInstructionPanics(t *testing.T) {
	tests := []struct {
		name string
		f    func()
	}{
		{"ABCWithABxOp", func() { ABCInstruction(OpLoadK, 0, 0, 0) }},
		{"ABCOverflow", func() { ABCInstruction(OpMove, 0, 512, 0) }},
		{"ABxWithABCOp", func() { ABxInstruction(OpMove, 0, 0) }},
		{"ABxNegative", func() { ABxInstruction(OpLoadK, 0, -1) }},
		{"AsBxOverflow", func() { ABxInstruction(OpJMP, 0, 131073) }},
		{"ExtraArgOverflow", func() { ExtraArgument(1 << 26) }},
		{"RKConstantOverflow", func() { RKConstant(256) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("did not panic")
				}
			}()
			test.f()
		})
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		i    Instruction
		want string
	}{
		{ABCInstruction(OpMove, 1, 0, 0), "MOVE      1 0"},
		{ABxInstruction(OpLoadK, 0, 1), "LOADK     0 -2"},
		{ABCInstruction(OpAdd, 0, RKConstant(0), 1), "ADD       0 -1 1"},
		{ABCInstruction(OpGetTabUp, 0, 0, RKConstant(2)), "GETTABUP  0 0 -3"},
		{ABCInstruction(OpReturn, 0, 2, 0), "RETURN    0 2"},
		{ABxInstruction(OpJMP, 0, -3), "JMP       0 -3"},
		{ABxInstruction(OpClosure, 1, 0), "CLOSURE   1 0"},
		{ABCInstruction(OpTest, 2, 0, 1), "TEST      2 1"},
		{ExtraArgument(5), "EXTRAARG  -6"},
	}
	for _, test := range tests {
		if got := test.i.String(); got != test.want {
			t.Errorf("Instruction(%#08x).String() = %q; want %q", uint32(test.i), got, test.want)
		}
	}
}

func TestOpCodeProperties(t *testing.T) {
	for op := OpCode(0); op.IsValid(); op++ {
		if op.OpMode() == 0 {
			t.Errorf("%v has no mode", op)
		}
		if op.String() == "" {
			t.Errorf("OpCode(%d) has no name", uint8(op))
		}
	}
	if OpCode(40).IsValid() {
		t.Error("OpCode(40).IsValid() = true")
	}
	for _, op := range []OpCode{OpEQ, OpLT, OpLE, OpTest, OpTestSet} {
		if !op.IsTest() {
			t.Errorf("%v.IsTest() = false", op)
		}
	}
	if OpJMP.IsTest() {
		t.Errorf("%v.IsTest() = true", OpJMP)
	}
	if !OpTestSet.SetsA() || OpTest.SetsA() {
		t.Errorf("SetsA: TESTSET = %t, TEST = %t; want true, false", OpTestSet.SetsA(), OpTest.SetsA())
	}
}
