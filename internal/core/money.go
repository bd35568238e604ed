// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer minor units (cents) so that concurrent ledger
// increments commute exactly. There is no currency code.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

type (
	Money struct {
		Cents int64
	}

	// Totals is the aggregate ledger row. Net balance is never stored.
	Totals struct {
		Collection Money
		Expense    Money
	}
)

// MaxCents bounds a single amount. 2^23 maximum amounts still fit in the
// int64 totals.
const MaxCents = int64(1) << 40

var hundred = decimal.NewFromInt(100)

func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxCents {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

func (m Money) IsZero() bool { return m.Cents == 0 }

// String formats cents as a decimal with two fraction digits (e.g. "12.34").
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// NetBalance returns collection minus expense.
func (t Totals) NetBalance() Money {
	return Money{Cents: t.Collection.Cents - t.Expense.Cents}
}

// ParseAmount converts a decimal string to Money with half-up rounding on the
// third fraction digit.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Signs, zero,
// and values that do not fit are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
//	ParseAmount("500")    -> 50000
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0)
	if !cents.IsPositive() || cents.GreaterThan(decimal.NewFromInt(MaxCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Units returns the amount in currency units for display.
func (m Money) Units() float64 {
	f, _ := decimal.New(m.Cents, -2).Float64()
	return f
}
