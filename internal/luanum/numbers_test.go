// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luanum

import (
	"math"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		s    string
		want float64
		err  bool
	}{
		{s: "", err: true},
		{s: "   ", err: true},
		{s: "-inf", err: true},
		{s: "-INF", err: true},
		{s: "-infinity", err: true},
		{s: "inf", err: true},
		{s: "INFINITY", err: true},
		{s: "nan", err: true},
		{s: "NaN", err: true},
		{s: "1_000_000", err: true},
		{s: "--1", err: true},
		{s: "+-1", err: true},
		{s: "0x", err: true},
		{s: "12abc", err: true},
		{s: "0", want: 0},
		{s: "1", want: 1},
		{s: "-1", want: -1},
		{s: "  42  ", want: 42},
		{s: "\t\n3\r", want: 3},
		{s: "+7", want: 7},
		{s: "-1.0", want: -1},
		{s: "3.1416", want: 3.1416},
		{s: ".5", want: 0.5},
		{s: "5.", want: 5},
		{s: "314.16e-2", want: 314.16e-2},
		{s: "0.31416E1", want: 0.31416e1},
		{s: "34e1", want: 34e1},
		{s: "0xff", want: 255},
		{s: "0XBEBADA", want: 0xBEBADA},
		{s: "-0x10", want: -16},
		{s: "0x0.1E", want: 0x0.1Ep0},
		{s: "0xA23p-4", want: 0xa23p-4},
		{s: "0X1.921FB54442D18P+1", want: 0x1.921FB54442D18p+1},
		{s: "0x1.fp10", want: 1984},
		{s: "0x8000000000000000", want: 0x8000000000000000},
		{s: "0x10000000000000000", want: 0x10000000000000000},
	}

	for _, test := range tests {
		got, err := ParseNumber(test.s)
		if got != test.want || (err != nil) != test.err {
			wantError := "<nil>"
			if test.err {
				wantError = "<error>"
			}
			t.Errorf("ParseNumber(%q) = %g, %v; want %g, %s", test.s, got, err, test.want, wantError)
		}
	}
}

func TestParseNumberOverflow(t *testing.T) {
	got, err := ParseNumber("1e400")
	if err != nil || !math.IsInf(got, 1) {
		t.Errorf("ParseNumber(\"1e400\") = %g, %v; want +Inf, <nil>", got, err)
	}
}

func TestParseIntBase(t *testing.T) {
	tests := []struct {
		s    string
		base int
		want float64
		err  bool
	}{
		{s: "ff", base: 16, want: 255},
		{s: "FF", base: 16, want: 255},
		{s: "  -z  ", base: 36, want: -35},
		{s: "777", base: 8, want: 511},
		{s: "1010", base: 2, want: 10},
		{s: "102", base: 2, err: true},
		{s: "", base: 10, err: true},
		{s: "-", base: 10, err: true},
		{s: "10", base: 1, err: true},
		{s: "10", base: 37, err: true},
		{s: "1.5", base: 10, err: true},
	}
	for _, test := range tests {
		got, err := ParseIntBase(test.s, test.base)
		if got != test.want || (err != nil) != test.err {
			wantError := "<nil>"
			if test.err {
				wantError = "<error>"
			}
			t.Errorf("ParseIntBase(%q, %d) = %g, %v; want %g, %s", test.s, test.base, got, err, test.want, wantError)
		}
	}
}

func TestToInteger(t *testing.T) {
	tests := []struct {
		f    float64
		want int64
		ok   bool
	}{
		{f: 0, want: 0, ok: true},
		{f: -3, want: -3, ok: true},
		{f: 1 << 53, want: 1 << 53, ok: true},
		{f: 0.5, ok: false},
		{f: math.NaN(), ok: false},
		{f: math.Inf(1), ok: false},
		{f: 0x1p63, ok: false},
		{f: -0x1p63, want: math.MinInt64, ok: true},
	}
	for _, test := range tests {
		got, ok := ToInteger(test.f)
		if got != test.want || ok != test.ok {
			t.Errorf("ToInteger(%g) = %d, %t; want %d, %t", test.f, got, ok, test.want, test.ok)
		}
	}
}
