// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"fmt"
	"math"
)

// ArithmeticOperator is the subset of Lua operators that operate on numbers.
type ArithmeticOperator int

const (
	Add ArithmeticOperator = 1 + iota
	Subtract
	Multiply
	Divide
	Modulo
	Power
	UnaryMinus

	numArithmeticOperators = iota
)

var operatorTagMethods = [numArithmeticOperators]TagMethod{
	Add - 1:        TagMethodAdd,
	Subtract - 1:   TagMethodSub,
	Multiply - 1:   TagMethodMul,
	Divide - 1:     TagMethodDiv,
	Modulo - 1:     TagMethodMod,
	Power - 1:      TagMethodPow,
	UnaryMinus - 1: TagMethodUNM,
}

var operatorNames = [numArithmeticOperators]string{
	Add - 1:        "Add",
	Subtract - 1:   "Subtract",
	Multiply - 1:   "Multiply",
	Divide - 1:     "Divide",
	Modulo - 1:     "Modulo",
	Power - 1:      "Power",
	UnaryMinus - 1: "UnaryMinus",
}

func (op ArithmeticOperator) isValid() bool {
	return 0 < op && op <= numArithmeticOperators
}

func (op ArithmeticOperator) String() string {
	if !op.isValid() {
		return fmt.Sprintf("ArithmeticOperator(%d)", int(op))
	}
	return operatorNames[op-1]
}

// TagMethod returns the metamethod name for the given operator.
// TagMethod panics if op is not a valid arithmetic operator.
func (op ArithmeticOperator) TagMethod() TagMethod {
	if !op.isValid() {
		panic("invalid arithmetic operator")
	}
	return operatorTagMethods[op-1]
}

// IsUnary reports whether the operator only uses one value.
func (op ArithmeticOperator) IsUnary() bool {
	return op == UnaryMinus
}

// IsBinary reports whether the operator uses two values.
func (op ArithmeticOperator) IsBinary() bool {
	return !op.IsUnary()
}

// Arithmetic performs an arithmetic operation on two numbers.
// If the operator is unary, v1 is used and v2 is ignored.
// Arithmetic panics if op is not a valid operator.
//
// Equivalent to `luaO_arith` in upstream Lua 5.2.
func Arithmetic(op ArithmeticOperator, v1, v2 float64) float64 {
	switch op {
	case Add:
		return v1 + v2
	case Subtract:
		return v1 - v2
	case Multiply:
		return v1 * v2
	case Divide:
		return floatDivide(v1, v2)
	case Modulo:
		return Modulus(v1, v2)
	case Power:
		if v2 == 2 {
			return v1 * v1
		}
		return math.Pow(v1, v2)
	case UnaryMinus:
		return -v1
	default:
		panic("unhandled arithmetic operator")
	}
}

// Modulus returns the Lua modulus of v1 and v2:
// v1 - floor(v1/v2)*v2.
// The result has the same sign as v2.
func Modulus(v1, v2 float64) float64 {
	return v1 - math.Floor(floatDivide(v1, v2))*v2
}

// floatDivide returns the result of v1 divided by v2.
// If v2 is zero, then the result is ±Inf.
func floatDivide(v1, v2 float64) float64 {
	if v2 == 0 {
		// We handle this case ourselves
		// because as per https://go.dev/ref/spec#Floating_point_operators,
		// "whether a run-time panic occurs [on division by zero] is implementation-specific."
		switch {
		case v1 == 0 || math.IsNaN(v1):
			return math.NaN()
		case math.Signbit(v1) != math.Signbit(v2):
			return math.Inf(-1)
		default:
			return math.Inf(1)
		}
	}
	return v1 / v2
}
