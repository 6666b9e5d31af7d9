// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "fmt"

// Instruction is a single virtual machine instruction.
//
// Instructions are 32-bit unsigned integers.
// The lowest 6 bits hold the [OpCode].
// The remaining bits are arranged according to the opcode's [OpMode]:
//
//	ABC:  B(9) C(9) A(8) op(6)
//	ABx:  Bx(18)    A(8) op(6)
//	AsBx: sBx(18)   A(8) op(6)
//	Ax:   Ax(26)         op(6)
type Instruction uint32

// ABCInstruction returns a new [OpModeABC] [Instruction]
// with the given arguments.
// ABCInstruction panics if the [OpCode] given
// does not return [OpModeABC] from [OpCode.OpMode]
// or if b or c do not fit in 9 bits.
func ABCInstruction(op OpCode, a uint8, b, c uint16) Instruction {
	if op.OpMode() != OpModeABC {
		panic("ABCInstruction with invalid OpCode")
	}
	if b > maxArgB || c > maxArgC {
		panic("ABCInstruction argument out of range")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(b)<<posB |
		Instruction(c)<<posC
}

// ABxInstruction returns a new [OpModeABx] or [OpModeAsBx] [Instruction]
// with the given arguments.
// ABxInstruction panics if the [OpCode] given
// does not return [OpModeABx] or [OpModeAsBx] from [OpCode.OpMode].
func ABxInstruction(op OpCode, a uint8, bx int32) Instruction {
	switch op.OpMode() {
	case OpModeABx:
		if bx < 0 || bx > maxArgBx {
			panic("Bx argument out of range")
		}
		return Instruction(op) |
			Instruction(a)<<posA |
			Instruction(bx)<<posBx
	case OpModeAsBx:
		if !fitsSignedBx(int64(bx)) {
			panic("Bx argument out of range")
		}
		return Instruction(op) |
			Instruction(a)<<posA |
			Instruction(bx+offsetBx)<<posBx
	default:
		panic("ABxInstruction with invalid OpCode")
	}
}

// ExtraArgument returns an [OpExtraArg] [Instruction].
// ExtraArgument panics if given an argument that is too large.
func ExtraArgument(ax uint32) Instruction {
	if ax > maxArgAx {
		panic("ExtraArgument argument out of range")
	}
	return Instruction(OpExtraArg) | Instruction(ax)<<posAx
}

const sizeOpCode = 6

// OpCode returns the instruction's type.
func (i Instruction) OpCode() OpCode {
	return OpCode(i & (1<<sizeOpCode - 1))
}

const (
	sizeA   = 8
	maxArgA = 1<<sizeA - 1
	posA    = sizeOpCode
)

// ArgA returns the first (A) argument
// of an [OpModeABC], [OpModeABx], or [OpModeAsBx] instruction.
func (i Instruction) ArgA() uint8 {
	switch i.OpCode().OpMode() {
	case OpModeABC, OpModeABx, OpModeAsBx:
		return uint8(i >> posA)
	default:
		return 0
	}
}

// WithArgA returns a copy of i
// with its first (A) argument changed to the given value,
// or i unchanged if i doesn't have an A instruction.
func (i Instruction) WithArgA(a uint8) (_ Instruction, ok bool) {
	switch i.OpCode().OpMode() {
	case OpModeABC, OpModeABx, OpModeAsBx:
		const mask = maxArgA << posA
		return i&^mask | (Instruction(a) << posA), true
	default:
		return i, false
	}
}

const (
	sizeC   = 9
	maxArgC = 1<<sizeC - 1
	posC    = posA + sizeA

	sizeB   = 9
	maxArgB = 1<<sizeB - 1
	posB    = posC + sizeC
)

// ArgB returns the second (B) argument of an [OpModeABC] instruction.
func (i Instruction) ArgB() uint16 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint16(i>>posB) & maxArgB
}

// ArgC returns the third (C) argument of an [OpModeABC] instruction.
func (i Instruction) ArgC() uint16 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint16(i>>posC) & maxArgC
}

// WithArgB returns a copy of i
// with its second (B) argument changed to the given value,
// or i unchanged if [OpCode.OpMode] is not [OpModeABC]
// or b does not fit in the argument.
func (i Instruction) WithArgB(b uint16) (_ Instruction, ok bool) {
	if i.OpCode().OpMode() != OpModeABC || b > maxArgB {
		return i, false
	}
	const mask = maxArgB << posB
	return i&^mask | (Instruction(b) << posB), true
}

// WithArgC returns a copy of i
// with its third (C) argument changed to the given value,
// or i unchanged if [OpCode.OpMode] is not [OpModeABC]
// or c does not fit in the argument.
func (i Instruction) WithArgC(c uint16) (_ Instruction, ok bool) {
	if i.OpCode().OpMode() != OpModeABC || c > maxArgC {
		return i, false
	}
	const mask = maxArgC << posC
	return i&^mask | (Instruction(c) << posC), true
}

const (
	sizeBx   = sizeC + sizeB
	maxArgBx = 1<<sizeBx - 1
	posBx    = posC
	offsetBx = maxArgBx >> 1
)

// ArgBx returns the second (Bx) argument
// of an [OpModeABx] or [OpModeAsBx] instruction.
// For [OpModeAsBx], the argument is signed.
func (i Instruction) ArgBx() int32 {
	switch i.OpCode().OpMode() {
	case OpModeABx:
		return int32(i >> posBx)
	case OpModeAsBx:
		return int32(i>>posBx) - offsetBx
	default:
		return 0
	}
}

// fitsSignedBx reports whether i can be stored in a signed Bx argument.
func fitsSignedBx(i int64) bool {
	return -offsetBx <= i && i <= maxArgBx-offsetBx
}

const (
	sizeAx   = sizeBx + sizeA
	maxArgAx = 1<<sizeAx - 1
	posAx    = posA
)

// ArgAx returns the argument passed to [ExtraArgument].
func (i Instruction) ArgAx() uint32 {
	if i.OpCode().OpMode() != OpModeAx {
		return 0
	}
	return uint32(i >> posAx)
}

// BitK is the bit set in a B or C argument
// to indicate that the argument refers to a constant
// rather than a register.
const BitK = 1 << (sizeB - 1)

// MaxIndexRK is the largest constant index that can be encoded
// in a B or C argument.
const MaxIndexRK = BitK - 1

// IsConstant reports whether an RK argument refers to a constant.
//
// Equivalent to `ISK` in upstream Lua.
func IsConstant(rk uint16) bool {
	return rk&BitK != 0
}

// ConstantIndex returns the constant index stored in an RK argument.
//
// Equivalent to `INDEXK` in upstream Lua.
func ConstantIndex(rk uint16) int {
	return int(rk &^ BitK)
}

// RKConstant returns an RK argument that refers to the constant k.
// RKConstant panics if k is larger than [MaxIndexRK].
//
// Equivalent to `RKASK` in upstream Lua.
func RKConstant(k int) uint16 {
	if k < 0 || k > MaxIndexRK {
		panic("constant index out of range for RK argument")
	}
	return uint16(k) | BitK
}

// FieldsPerFlush is the number of list items
// to accumulate before an [OpSetList] instruction.
const FieldsPerFlush = 50

// String decodes the instruction
// and formats it in a manner similar to [luac] -l.
// RK arguments that refer to constants are shown as negative numbers.
//
// [luac]: https://www.lua.org/manual/5.2/luac.html
func (i Instruction) String() string {
	op := i.OpCode()
	switch op.OpMode() {
	case OpModeABC:
		s := fmt.Sprintf("%-9s %d", op, i.ArgA())
		if mode := op.ArgBMode(); mode != OpArgUnused {
			s += fmt.Sprintf(" %d", formatArg(mode, i.ArgB()))
		}
		if mode := op.ArgCMode(); mode != OpArgUnused {
			s += fmt.Sprintf(" %d", formatArg(mode, i.ArgC()))
		}
		return s
	case OpModeABx:
		if op.ArgBMode() == OpArgConstant {
			return fmt.Sprintf("%-9s %d %d", op, i.ArgA(), -1-i.ArgBx())
		}
		if op.ArgBMode() == OpArgUnused {
			return fmt.Sprintf("%-9s %d", op, i.ArgA())
		}
		return fmt.Sprintf("%-9s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAsBx:
		return fmt.Sprintf("%-9s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAx:
		return fmt.Sprintf("%-9s %d", op, -1-int64(i.ArgAx()))
	default:
		return fmt.Sprintf("Instruction(%#08x)", uint32(i))
	}
}

func formatArg(mode OpArgMode, arg uint16) int {
	if mode == OpArgConstant && IsConstant(arg) {
		return -1 - ConstantIndex(arg)
	}
	return int(arg)
}

// OpCode is an enumeration of [Instruction] types.
type OpCode uint8

// IsValid reports whether the opcode is one of the known instructions.
func (op OpCode) IsValid() bool {
	return op <= maxOpCode
}

// String returns the upper-case name of the opcode as used by luac.
func (op OpCode) String() string {
	if !op.IsValid() {
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
	return opNames[op]
}

func (op OpCode) props() uint16 {
	if !op.IsValid() {
		return 0
	}
	return opProps[op]
}

// OpMode returns the format of an [Instruction] that uses the opcode.
//
// Equivalent to `getOpMode` in upstream Lua.
func (op OpCode) OpMode() OpMode {
	return OpMode(op.props() & 7)
}

// SetsA reports whether an [Instruction] that uses the opcode
// would change the value of the register given in [Instruction.ArgA].
//
// Equivalent to `testAMode` in upstream Lua.
func (op OpCode) SetsA() bool {
	return op.props()&(1<<3) != 0
}

// IsTest reports whether the instruction is a test.
// In a valid program, the next instruction will be a jump.
//
// Equivalent to `testTMode` in upstream Lua.
func (op OpCode) IsTest() bool {
	return op.props()&(1<<4) != 0
}

// ArgBMode reports how the instruction uses its B (or Bx) argument.
//
// Equivalent to `getBMode` in upstream Lua.
func (op OpCode) ArgBMode() OpArgMode {
	return OpArgMode(op.props()>>5) & 3
}

// ArgCMode reports how the instruction uses its C argument.
//
// Equivalent to `getCMode` in upstream Lua.
func (op OpCode) ArgCMode() OpArgMode {
	return OpArgMode(op.props()>>7) & 3
}

// ArithmeticOperator returns the [ArithmeticOperator]
// that the instruction represents.
func (op OpCode) ArithmeticOperator() (_ ArithmeticOperator, ok bool) {
	switch op {
	case OpAdd:
		return Add, true
	case OpSub:
		return Subtract, true
	case OpMul:
		return Multiply, true
	case OpDiv:
		return Divide, true
	case OpMod:
		return Modulo, true
	case OpPow:
		return Power, true
	case OpUNM:
		return UnaryMinus, true
	default:
		return 0, false
	}
}

// Defined [OpCode] values.
const (
	// A B R(A) := R(B)
	OpMove OpCode = 0
	// A Bx R(A) := Kst(Bx)
	OpLoadK OpCode = 1
	// A R(A) := Kst(extra arg)
	OpLoadKX OpCode = 2
	// A B C R(A) := (Bool)B; if (C) pc++
	OpLoadBool OpCode = 3
	// A B R(A), R(A+1), ..., R(A+B) := nil
	OpLoadNil OpCode = 4
	// A B R(A) := UpValue[B]
	OpGetUpval OpCode = 5
	// A B C R(A) := UpValue[B][RK(C)]
	OpGetTabUp OpCode = 6
	// A B C R(A) := R(B)[RK(C)]
	OpGetTable OpCode = 7
	// A B C UpValue[A][RK(B)] := RK(C)
	OpSetTabUp OpCode = 8
	// A B UpValue[B] := R(A)
	OpSetUpval OpCode = 9
	// A B C R(A)[RK(B)] := RK(C)
	OpSetTable OpCode = 10
	// A B C R(A) := {} (size = B,C)
	OpNewTable OpCode = 11
	// A B C R(A+1) := R(B); R(A) := R(B)[RK(C)]
	OpSelf OpCode = 12
	// A B C R(A) := RK(B) + RK(C)
	OpAdd OpCode = 13
	// A B C R(A) := RK(B) - RK(C)
	OpSub OpCode = 14
	// A B C R(A) := RK(B) * RK(C)
	OpMul OpCode = 15
	// A B C R(A) := RK(B) / RK(C)
	OpDiv OpCode = 16
	// A B C R(A) := RK(B) % RK(C)
	OpMod OpCode = 17
	// A B C R(A) := RK(B) ^ RK(C)
	OpPow OpCode = 18
	// A B R(A) := -R(B)
	OpUNM OpCode = 19
	// A B R(A) := not R(B)
	OpNot OpCode = 20
	// A B R(A) := length of R(B)
	OpLen OpCode = 21
	// A B C R(A) := R(B).. ... ..R(C)
	OpConcat OpCode = 22
	// A sBx pc+=sBx; if (A) close all upvalues >= R(A - 1)
	OpJMP OpCode = 23
	// A B C if ((RK(B) == RK(C)) ~= A) then pc++
	OpEQ OpCode = 24
	// A B C if ((RK(B) <  RK(C)) ~= A) then pc++
	OpLT OpCode = 25
	// A B C if ((RK(B) <= RK(C)) ~= A) then pc++
	OpLE OpCode = 26
	// A C if not (R(A) <=> C) then pc++
	OpTest OpCode = 27
	// A B C if (R(B) <=> C) then R(A) := R(B) else pc++
	OpTestSet OpCode = 28
	// A B C R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1))
	OpCall OpCode = 29
	// A B C return R(A)(R(A+1), ... ,R(A+B-1))
	OpTailCall OpCode = 30
	// A B return R(A), ... ,R(A+B-2)
	OpReturn OpCode = 31
	// A sBx R(A)+=R(A+2); if R(A) <?= R(A+1) then { pc+=sBx; R(A+3)=R(A) }
	OpForLoop OpCode = 32
	// A sBx R(A)-=R(A+2); pc+=sBx
	OpForPrep OpCode = 33
	// A C R(A+3), ... ,R(A+2+C) := R(A)(R(A+1), R(A+2));
	OpTForCall OpCode = 34
	// A sBx if R(A+1) ~= nil then { R(A)=R(A+1); pc += sBx }
	OpTForLoop OpCode = 35
	// A B C R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B
	OpSetList OpCode = 36
	// A Bx R(A) := closure(KPROTO[Bx])
	OpClosure OpCode = 37
	// A B R(A), R(A+1), ..., R(A+B-2) = vararg
	OpVararg OpCode = 38
	// Ax extra (larger) argument for previous opcode
	OpExtraArg OpCode = 39

	maxOpCode = OpExtraArg
)

var opNames = [...]string{
	OpMove:     "MOVE",
	OpLoadK:    "LOADK",
	OpLoadKX:   "LOADKX",
	OpLoadBool: "LOADBOOL",
	OpLoadNil:  "LOADNIL",
	OpGetUpval: "GETUPVAL",
	OpGetTabUp: "GETTABUP",
	OpGetTable: "GETTABLE",
	OpSetTabUp: "SETTABUP",
	OpSetUpval: "SETUPVAL",
	OpSetTable: "SETTABLE",
	OpNewTable: "NEWTABLE",
	OpSelf:     "SELF",
	OpAdd:      "ADD",
	OpSub:      "SUB",
	OpMul:      "MUL",
	OpDiv:      "DIV",
	OpMod:      "MOD",
	OpPow:      "POW",
	OpUNM:      "UNM",
	OpNot:      "NOT",
	OpLen:      "LEN",
	OpConcat:   "CONCAT",
	OpJMP:      "JMP",
	OpEQ:       "EQ",
	OpLT:       "LT",
	OpLE:       "LE",
	OpTest:     "TEST",
	OpTestSet:  "TESTSET",
	OpCall:     "CALL",
	OpTailCall: "TAILCALL",
	OpReturn:   "RETURN",
	OpForLoop:  "FORLOOP",
	OpForPrep:  "FORPREP",
	OpTForCall: "TFORCALL",
	OpTForLoop: "TFORLOOP",
	OpSetList:  "SETLIST",
	OpClosure:  "CLOSURE",
	OpVararg:   "VARARG",
	OpExtraArg: "EXTRAARG",
}

// opProps packs the properties of each opcode:
// bits 0-2 are the OpMode, bit 3 is set if the instruction sets A,
// bit 4 is set for tests, bits 5-6 are the B argument mode,
// and bits 7-8 are the C argument mode.
var opProps = [...]uint16{
	OpMove:     props(false, true, OpArgRegister, OpArgUnused, OpModeABC),
	OpLoadK:    props(false, true, OpArgConstant, OpArgUnused, OpModeABx),
	OpLoadKX:   props(false, true, OpArgUnused, OpArgUnused, OpModeABx),
	OpLoadBool: props(false, true, OpArgUsed, OpArgUsed, OpModeABC),
	OpLoadNil:  props(false, true, OpArgUsed, OpArgUnused, OpModeABC),
	OpGetUpval: props(false, true, OpArgUsed, OpArgUnused, OpModeABC),
	OpGetTabUp: props(false, true, OpArgUsed, OpArgConstant, OpModeABC),
	OpGetTable: props(false, true, OpArgRegister, OpArgConstant, OpModeABC),
	OpSetTabUp: props(false, false, OpArgConstant, OpArgConstant, OpModeABC),
	OpSetUpval: props(false, false, OpArgUsed, OpArgUnused, OpModeABC),
	OpSetTable: props(false, false, OpArgConstant, OpArgConstant, OpModeABC),
	OpNewTable: props(false, true, OpArgUsed, OpArgUsed, OpModeABC),
	OpSelf:     props(false, true, OpArgRegister, OpArgConstant, OpModeABC),
	OpAdd:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpSub:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpMul:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpDiv:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpMod:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpPow:      props(false, true, OpArgConstant, OpArgConstant, OpModeABC),
	OpUNM:      props(false, true, OpArgRegister, OpArgUnused, OpModeABC),
	OpNot:      props(false, true, OpArgRegister, OpArgUnused, OpModeABC),
	OpLen:      props(false, true, OpArgRegister, OpArgUnused, OpModeABC),
	OpConcat:   props(false, true, OpArgRegister, OpArgRegister, OpModeABC),
	OpJMP:      props(false, false, OpArgRegister, OpArgUnused, OpModeAsBx),
	OpEQ:       props(true, false, OpArgConstant, OpArgConstant, OpModeABC),
	OpLT:       props(true, false, OpArgConstant, OpArgConstant, OpModeABC),
	OpLE:       props(true, false, OpArgConstant, OpArgConstant, OpModeABC),
	OpTest:     props(true, false, OpArgUnused, OpArgUsed, OpModeABC),
	OpTestSet:  props(true, true, OpArgRegister, OpArgUsed, OpModeABC),
	OpCall:     props(false, true, OpArgUsed, OpArgUsed, OpModeABC),
	OpTailCall: props(false, true, OpArgUsed, OpArgUsed, OpModeABC),
	OpReturn:   props(false, false, OpArgUsed, OpArgUnused, OpModeABC),
	OpForLoop:  props(false, true, OpArgRegister, OpArgUnused, OpModeAsBx),
	OpForPrep:  props(false, true, OpArgRegister, OpArgUnused, OpModeAsBx),
	OpTForCall: props(false, false, OpArgUnused, OpArgUsed, OpModeABC),
	OpTForLoop: props(false, true, OpArgRegister, OpArgUnused, OpModeAsBx),
	OpSetList:  props(false, false, OpArgUsed, OpArgUsed, OpModeABC),
	OpClosure:  props(false, true, OpArgUsed, OpArgUnused, OpModeABx),
	OpVararg:   props(false, true, OpArgUsed, OpArgUnused, OpModeABC),
	OpExtraArg: props(false, false, OpArgUsed, OpArgUsed, OpModeAx),
}

func props(test, setsA bool, b, c OpArgMode, mode OpMode) uint16 {
	p := uint16(mode) | uint16(b)<<5 | uint16(c)<<7
	if setsA {
		p |= 1 << 3
	}
	if test {
		p |= 1 << 4
	}
	return p
}

// OpMode is an enumeration of [Instruction] formats.
type OpMode uint8

// Instruction formats.
const (
	OpModeABC OpMode = 1 + iota
	OpModeABx
	OpModeAsBx
	OpModeAx
)

// String returns the name of the format.
func (mode OpMode) String() string {
	switch mode {
	case OpModeABC:
		return "ABC"
	case OpModeABx:
		return "ABx"
	case OpModeAsBx:
		return "AsBx"
	case OpModeAx:
		return "Ax"
	default:
		return fmt.Sprintf("OpMode(%d)", uint8(mode))
	}
}

// OpArgMode is an enumeration of the ways an [Instruction] uses an argument.
type OpArgMode uint8

// Argument modes.
const (
	// OpArgUnused indicates that the argument is not used.
	OpArgUnused OpArgMode = iota
	// OpArgUsed indicates that the argument is used as a plain number.
	OpArgUsed
	// OpArgRegister indicates that the argument is a register or a jump offset.
	OpArgRegister
	// OpArgConstant indicates that the argument is a constant or a register/constant.
	OpArgConstant
)
