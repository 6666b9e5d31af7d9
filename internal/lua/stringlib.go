// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/henchmeninteractive/henchlua/internal/luanum"
)

// StringLibraryName is the conventional identifier for the [string manipulation library].
//
// [string manipulation library]: https://www.lua.org/manual/5.2/manual.html#6.4
const StringLibraryName = "string"

// OpenString registers the string library into globals
// as the table named [StringLibraryName]
// and sets l's string metatable so that string values index the library.
func OpenString(l *Thread, globals *Table) error {
	lib := NewLib(map[string]Function{
		"byte":    stringByte,
		"char":    stringChar,
		"find":    stringFind,
		"format":  stringFormat,
		"len":     stringLen,
		"lower":   stringLower,
		"rep":     stringRepeat,
		"reverse": stringReverse,
		"sub":     stringSub,
		"upper":   stringUpper,
	})
	if err := globals.SetString(NewLString(StringLibraryName), TableValue(lib)); err != nil {
		return fmt.Errorf("open string library: %v", err)
	}
	mt := NewTable(0, 1)
	if err := mt.SetString(tagMethodNames[luacode.TagMethodIndex], TableValue(lib)); err != nil {
		return fmt.Errorf("open string library: %v", err)
	}
	l.SetTypeMetatable(TypeString, mt)
	return nil
}

func stringByte(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	pi, err := OptInteger(l, 2, 1)
	if err != nil {
		return 0, err
	}
	start, inBounds := stringIndexArg(pi, s.Len())
	if !inBounds {
		return 0, nil
	}
	end, err := stringEndArg(l, 3, pi, s.Len())
	if err != nil {
		return 0, err
	}
	if start >= end {
		return 0, nil
	}
	n := end - start
	if !l.CheckSpace(n) {
		return 0, NewError(l, "string slice too long")
	}
	for i := range n {
		l.Push(IntValue(int64(s.At(start + i))))
	}
	return n, nil
}

func stringChar(ctx context.Context, l *Thread) (int, error) {
	n := l.Top()
	buf := make([]byte, 0, n)
	for i := 1; i <= n; i++ {
		c, err := CheckInteger(l, i)
		if err != nil {
			return 0, err
		}
		if c < 0 || c > 0xff {
			return 0, NewArgError(l, i, "value out of range")
		}
		buf = append(buf, byte(c))
	}
	return l.Return(LStringValue(MakeLString(buf))), nil
}

// patternSpecials is the set of bytes that make a find pattern
// something other than a plain substring.
const patternSpecials = "^$*+?.([%-"

func stringFind(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	pattern, err := CheckString(l, 2)
	if err != nil {
		return 0, err
	}
	initArg, err := OptInteger(l, 3, 1)
	if err != nil {
		return 0, err
	}
	init, initOK := stringIndexArg(initArg, s.Len())
	if !initOK {
		return l.Return(Nil), nil
	}
	if !l.Get(4).ToBool() && strings.ContainsAny(pattern.String(), patternSpecials) {
		return 0, NewError(l, "patterns are not supported (use plain find)")
	}

	i := strings.Index(s.String()[init:], pattern.String())
	if i == -1 {
		return l.Return(Nil), nil
	}
	return l.Return(
		IntValue(int64(init)+int64(i)+1),
		IntValue(int64(init)+int64(i)+int64(pattern.Len())),
	), nil
}

func stringFormat(ctx context.Context, l *Thread) (int, error) {
	formatString, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	sb := new(strings.Builder)
	sb.Grow(formatString.Len())
	arg := 1
	for tail := formatString.String(); len(tail) > 0; {
		var spec string
		spec, tail, err = cutFormatSpecifier(tail)
		if err != nil {
			return 0, NewError(l, "%v", err)
		}
		if spec[0] != '%' {
			sb.WriteString(spec)
			continue
		}
		if spec == "%%" {
			sb.WriteByte('%')
			continue
		}

		arg++
		if l.Type(arg) == TypeNone {
			return 0, NewArgError(l, arg, "no value")
		}
		switch conv := spec[len(spec)-1]; conv {
		case 'd', 'i':
			n, err := CheckNumber(l, arg)
			if err != nil {
				return 0, err
			}
			i := numberToInteger(n)
			fmt.Fprintf(sb, spec[:len(spec)-1]+"d", i)
		case 'u':
			n, err := CheckNumber(l, arg)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(sb, spec[:len(spec)-1]+"d", uint64(numberToInteger(n)))
		case 'o', 'x', 'X':
			n, err := CheckNumber(l, arg)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(sb, spec, uint64(numberToInteger(n)))
		case 'c':
			n, err := CheckNumber(l, arg)
			if err != nil {
				return 0, err
			}
			padString(sb, spec, string([]byte{byte(numberToInteger(n))}))
		case 'e', 'E', 'f', 'g', 'G':
			n, err := CheckNumber(l, arg)
			if err != nil {
				return 0, err
			}
			if math.IsInf(n, 0) || math.IsNaN(n) {
				padString(sb, formatSpecWidth(spec)+"s", luanum.Format(n))
				break
			}
			if (conv == 'g' || conv == 'G') && !strings.Contains(spec, ".") {
				spec = spec[:len(spec)-1] + ".6" + string(conv)
			}
			fmt.Fprintf(sb, spec, n)
		case 'q':
			s, err := CheckString(l, arg)
			if err != nil {
				return 0, err
			}
			addQuoted(sb, s)
		case 's':
			s, err := ToString(ctx, l, arg)
			if err != nil {
				return 0, err
			}
			padString(sb, spec, s.String())
		default:
			return 0, NewError(l, "invalid option '%s' to 'format'", spec)
		}
	}
	return l.Return(StringValue(sb.String())), nil
}

// formatSpecWidth returns the flags and width portion of spec
// with the precision and conversion removed.
func formatSpecWidth(spec string) string {
	spec = spec[:len(spec)-1]
	if i := strings.IndexByte(spec, '.'); i >= 0 {
		spec = spec[:i]
	}
	return strings.Map(func(r rune) rune {
		if r == '+' || r == ' ' || r == '#' {
			return -1
		}
		return r
	}, spec)
}

// padString writes s to sb according to a %s-style spec.
// Width and precision count bytes.
func padString(sb *strings.Builder, spec string, s string) {
	options := spec[1 : len(spec)-1]
	flagsLength := findRunEnd(options, "-+# 0")
	leftAlign := strings.Contains(options[:flagsLength], "-")
	widthString, precisionString, hasPrecision := strings.Cut(options[flagsLength:], ".")
	if hasPrecision {
		precision := 0
		for i := range len(precisionString) {
			precision = precision*10 + int(precisionString[i]-'0')
		}
		s = s[:min(precision, len(s))]
	}
	width := 0
	for i := range len(widthString) {
		width = width*10 + int(widthString[i]-'0')
	}
	pad := strings.Repeat(" ", max(width-len(s), 0))
	if leftAlign {
		sb.WriteString(s)
		sb.WriteString(pad)
	} else {
		sb.WriteString(pad)
		sb.WriteString(s)
	}
}

// addQuoted writes s as a Lua string literal
// that can be safely read back by the Lua interpreter.
func addQuoted(sb *strings.Builder, s LString) {
	sb.WriteByte('"')
	for i := range s.Len() {
		c := s.At(i)
		switch {
		case c == '"' || c == '\\' || c == '\n':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			if i+1 < s.Len() && isDigit(s.At(i+1)) {
				fmt.Fprintf(sb, `\%03d`, c)
			} else {
				fmt.Fprintf(sb, `\%d`, c)
			}
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func cutFormatSpecifier(s string) (spec, tail string, err error) {
	if s == "" {
		return "", "", nil
	}
	if s[0] != '%' {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			return s, "", nil
		}
		return s[:i], s[i:], nil
	}
	optionsStart := 1
	optionsLength := findRunEnd(s[optionsStart:], "-+# 0123456789.")
	if optionsLength >= 22 {
		return s, "", fmt.Errorf("invalid format (repeated flags)")
	}
	optionsEnd := optionsStart + optionsLength
	if optionsEnd >= len(s) {
		return s, "", fmt.Errorf("invalid option '%s' to 'format'", s)
	}
	options := s[optionsStart:optionsEnd]
	end := optionsEnd + 1
	spec, tail = s[:end], s[end:]

	switch s[optionsEnd] {
	case '%', 'q':
		if optionsLength != 0 {
			return spec, tail, fmt.Errorf("invalid option '%s' to 'format'", spec)
		}
		return spec, tail, nil
	case 'c', 'd', 'i', 'u', 'o', 'x', 'X', 'e', 'E', 'f', 'g', 'G', 's':
	default:
		return spec, tail, fmt.Errorf("invalid option '%s' to 'format'", spec)
	}
	if !checkFormatOptions(options) {
		return spec, tail, fmt.Errorf("invalid format (width or precision too long)")
	}
	return spec, tail, nil
}

func checkFormatOptions(options string) bool {
	flagsLength := findRunEnd(options, "-+# 0")
	if flagsLength > 5 {
		return false
	}
	width := options[flagsLength:]
	const digits = "0123456789"
	digits1 := findRunEnd(width, digits)
	if digits1 > 2 {
		return false
	}
	if digits1 == len(width) {
		return true
	}
	if width[digits1] != '.' {
		return false
	}
	precision := width[digits1+1:]
	digits2 := findRunEnd(precision, digits)
	return digits2 == len(precision) && digits2 <= 2
}

func findRunEnd(s string, charset string) int {
	n := 0
	for n < len(s) && strings.IndexByte(charset, s[n]) != -1 {
		n++
	}
	return n
}

func stringLen(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	return l.Return(IntValue(int64(s.Len()))), nil
}

func stringLower(ctx context.Context, l *Thread) (int, error) {
	return mapBytes(l, toLowerASCII)
}

func stringUpper(ctx context.Context, l *Thread) (int, error) {
	return mapBytes(l, toUpperASCII)
}

func mapBytes(l *Thread, f func(byte) byte) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	buf := s.Bytes()
	for i, c := range buf {
		buf[i] = f(c)
	}
	return l.Return(LStringValue(MakeLString(buf))), nil
}

func stringRepeat(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	n, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	sep, err := OptString(l, 3, "")
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return l.Return(StringValue("")), nil
	}
	if unit := int64(s.Len() + sep.Len()); unit > 0 && n > maxStringSize/unit {
		return 0, NewError(l, "resulting string too large")
	}
	sb := new(strings.Builder)
	sb.Grow(int(n)*s.Len() + int(n-1)*sep.Len())
	for range n - 1 {
		sb.WriteString(s.String())
		sb.WriteString(sep.String())
	}
	sb.WriteString(s.String())
	return l.Return(StringValue(sb.String())), nil
}

const maxStringSize = math.MaxInt32

func stringReverse(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	n := s.Len()
	buf := make([]byte, n)
	for i := range n {
		buf[n-1-i] = s.At(i)
	}
	return l.Return(LStringValue(MakeLString(buf))), nil
}

func stringSub(ctx context.Context, l *Thread) (int, error) {
	s, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}
	iArg, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	i, inBounds := stringIndexArg(iArg, s.Len())
	if !inBounds {
		return l.Return(StringValue("")), nil
	}
	j, err := stringEndArg(l, 3, -1, s.Len())
	if err != nil {
		return 0, err
	}
	if i >= j {
		return l.Return(StringValue("")), nil
	}
	return l.Return(LStringValue(s.Substring(i, j-i))), nil
}

// stringIndexArg converts a 1-based Lua string position
// (negative counts from the end)
// to a 0-based byte offset.
func stringIndexArg(i int64, n int) (_ int, inBounds bool) {
	switch {
	case i < 0:
		return int(max(int64(n)+i, 0)), true
	case i == 0 || i == 1:
		return 0, true
	case i > int64(n):
		return n, false
	default:
		return int(i) - 1, true
	}
}

// stringEndArg returns the exclusive end offset for the position at arg.
func stringEndArg(l *Thread, arg int, defaultValue int64, n int) (int, error) {
	i, err := OptInteger(l, arg, defaultValue)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return int(max(int64(n)+i+1, 0)), nil
	}
	return int(min(i, int64(n))), nil
}

func toLowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func toUpperASCII(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
