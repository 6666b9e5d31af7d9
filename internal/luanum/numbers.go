// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package luanum converts between Lua 5.2 numbers and their string forms.
package luanum

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ParseNumber converts the given string to a number
// according to the [lexical rules of Lua 5.2].
// Surrounding whitespace is permitted,
// and any error returned will be of type [*strconv.NumError].
// Hexadecimal numerals may have a fraction and a binary exponent.
//
// [lexical rules of Lua 5.2]: https://www.lua.org/manual/5.2/manual.html#3.1
func ParseNumber(s string) (float64, error) {
	trimmed := trimSpace(s)
	_, withoutSign := cutSign(trimmed)
	if withoutSign == "" ||
		strings.EqualFold(withoutSign, "Inf") ||
		strings.EqualFold(withoutSign, "Infinity") ||
		strings.EqualFold(withoutSign, "NaN") ||
		strings.Contains(withoutSign, "_") ||
		withoutSign[0] == '+' || withoutSign[0] == '-' {
		return 0, syntaxError("ParseNumber", s)
	}
	toParse := trimmed
	if _, isHex := cutHexPrefix(withoutSign); isHex && !strings.ContainsAny(withoutSign, "pP") {
		// Go hex float literals must have an exponent.
		toParse += "p0"
	}
	f, err := strconv.ParseFloat(toParse, 64)
	if errors.Is(err, strconv.ErrRange) {
		return f, nil
	}
	if err != nil {
		return 0, syntaxError("ParseNumber", s)
	}
	return f, nil
}

// ParseIntBase converts the given string of digits in the given base
// to a number, as done by the two-argument form of tonumber.
// base must be in the range [2, 36].
// Surrounding whitespace and a leading minus sign are permitted.
func ParseIntBase(s string, base int) (float64, error) {
	if base < 2 || base > 36 {
		return 0, &strconv.NumError{
			Func: "ParseIntBase",
			Num:  s,
			Err:  errors.New("base out of range"),
		}
	}
	neg, digits := cutSign(trimSpace(s))
	if digits == "" {
		return 0, syntaxError("ParseIntBase", s)
	}
	var n float64
	for i := 0; i < len(digits); i++ {
		d, ok := digitValue(digits[i])
		if !ok || d >= base {
			return 0, syntaxError("ParseIntBase", s)
		}
		n = n*float64(base) + float64(d)
	}
	if neg {
		n = -n
	}
	return n, nil
}

// ToInteger converts a number to an integer
// if it has an exact integer representation.
func ToInteger(f float64) (_ int64, ok bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func digitValue(c byte) (int, bool) {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0'), true
	case 'a' <= c && c <= 'z':
		return int(c-'a') + 10, true
	case 'A' <= c && c <= 'Z':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func syntaxError(fn, s string) error {
	return &strconv.NumError{
		Func: fn,
		Num:  s,
		Err:  strconv.ErrSyntax,
	}
}

func cutHexPrefix(s string) (rest string, hex bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return s, false
}

func cutSign(s string) (neg bool, rest string) {
	switch {
	case len(s) == 0:
		return false, s
	case s[0] == '+':
		return false, s[1:]
	case s[0] == '-':
		return true, s[1:]
	default:
		return false, s
	}
}

func trimSpace(s string) string {
	for len(s) > 0 && isSpace(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 && isSpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}

// isSpace reports whether c is a whitespace character in the C locale.
func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f' || c == '\r'
}
