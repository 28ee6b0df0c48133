package store

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMustDecimalParsesValid(t *testing.T) {
	got := mustDecimal("123.456")
	want := decimal.RequireFromString("123.456")
	if !got.Equal(want) {
		t.Fatalf("mustDecimal(%q) = %s, want %s", "123.456", got, want)
	}
}

func TestMustDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	got := mustDecimal("not-a-number")
	if !got.Equal(decimal.Zero) {
		t.Fatalf("mustDecimal(garbage) = %s, want 0", got)
	}
}

func TestMustDecimalEmptyString(t *testing.T) {
	got := mustDecimal("")
	if !got.Equal(decimal.Zero) {
		t.Fatalf("mustDecimal(\"\") = %s, want 0", got)
	}
}
