package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClampPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{250, 100},
		{-5, 0},
		{7.5, 7.5},
		{math.NaN(), 0},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
	}
	for _, tc := range cases {
		if got := ClampPercent(tc.in); got != tc.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRound2HalfUp(t *testing.T) {
	cases := map[string]string{
		"1.005":  "1.01",
		"2.345":  "2.35",
		"10.004": "10",
		"0.125":  "0.13",
	}
	for in, want := range cases {
		got := Round2(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("Round2(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatWhole(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "$0"},
		{"999.49", "$999"},
		{"1000", "$1,000"},
		{"8964.5", "$8,965"},
		{"1234567.2", "$1,234,567"},
		{"-1500", "-$1,500"},
	}
	for _, tc := range cases {
		if got := FormatWhole(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Errorf("FormatWhole(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(7.5); got != "7.5" {
		t.Fatalf("FormatPercent(7.5) = %q", got)
	}
	if got := FormatPercent(10); got != "10" {
		t.Fatalf("FormatPercent(10) = %q", got)
	}
}

func TestNonNegative(t *testing.T) {
	if NonNegative(-3) != 0 || NonNegative(math.NaN()) != 0 || NonNegative(4.5) != 4.5 {
		t.Fatal("NonNegative did not clamp")
	}
}
