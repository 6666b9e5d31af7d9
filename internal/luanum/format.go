// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luanum

import (
	"math"
	"strconv"
)

// Precision is the number of significant digits
// used when converting a number to a string.
const Precision = 14

// Format returns the string form of a number
// as produced by C's printf("%.14g"),
// which is what Lua 5.2 uses for tostring and string coercion.
// Infinities format as "inf" and "-inf"; NaN formats as "nan" or "-nan".
func Format(f float64) string {
	return string(AppendFormat(nil, f))
}

// AppendFormat appends the string form of f (as described in [Format]) to dst
// and returns the extended buffer.
func AppendFormat(dst []byte, f float64) []byte {
	switch {
	case math.IsInf(f, 1):
		return append(dst, "inf"...)
	case math.IsInf(f, -1):
		return append(dst, "-inf"...)
	case math.IsNaN(f):
		if math.Signbit(f) {
			return append(dst, "-nan"...)
		}
		return append(dst, "nan"...)
	}
	if i, ok := ToInteger(f); ok && -1e14 < f && f < 1e14 {
		// Integers in this range always format without an exponent.
		if i == 0 && math.Signbit(f) {
			return append(dst, "-0"...)
		}
		return strconv.AppendInt(dst, i, 10)
	}
	return strconv.AppendFloat(dst, f, 'g', Precision, 64)
}
