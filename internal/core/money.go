// Package core provides the value types shared by every other package:
// dates, money, obligation definitions and their occurrences.
//
// Money is held in integer cents. Calculations that can produce fractional
// cents (the evenly-distributed saving contribution) go through
// shopspring/decimal so no floating-point arithmetic ever touches an amount.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a currency amount in integer cents.
type Money struct {
	Cents int64
}

// NewMoney builds a Money from cents.
func NewMoney(cents int64) Money {
	return Money{Cents: cents}
}

func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

func (m Money) Sub(other Money) Money {
	return Money{Cents: m.Cents - other.Cents}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Decimal returns the amount in cents as an exact decimal, the form used by
// the savings allocator.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Cents)
}

// String formats the amount as currency units with two decimals, e.g. 1234
// cents -> "12.34".
func (m Money) String() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
