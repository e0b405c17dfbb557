package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"scadenze/internal/core"
)

// MonthlyContribution returns the amount in cents, as an exact decimal, to
// set aside each month for one definition. A definition contributes the same
// flat amount every month once it exists; months are not filtered.
func MonthlyContribution(def core.Definition) (decimal.Decimal, error) {
	switch def.Saving.Type {
	case core.SavingDisabled:
		return decimal.Zero, nil
	case core.SavingEvenlyDistributed:
		if def.IntervalMonths <= 0 {
			return decimal.Zero, core.ErrInvalidRecurrence
		}
		return def.Amount.Decimal().Div(decimal.NewFromInt(int64(def.IntervalMonths))), nil
	case core.SavingCustomMonthly:
		if def.Saving.CustomMonthly == nil {
			return decimal.Zero, &core.ValidationError{
				Messages: []string{"customMonthly saving strategy requires a custom amount"},
			}
		}
		return def.Saving.CustomMonthly.Decimal(), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown saving strategy %q", def.Saving.Type)
	}
}

// MonthlySavingsTotal sums the monthly contribution of every definition.
func MonthlySavingsTotal(defs []core.Definition) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, def := range defs {
		c, err := MonthlyContribution(def)
		if err != nil {
			return decimal.Zero, fmt.Errorf("contribution for definition %d: %w", def.ID, err)
		}
		total = total.Add(c)
	}
	return total, nil
}

// CategorySavingsAllocation groups monthly contributions by category id.
// Definitions without a category are left out of the map (they still count
// toward the flat total). A definition referencing a category id missing
// from known resolves to ErrCategoryNotFound.
func CategorySavingsAllocation(defs []core.Definition, known []core.Category) (map[int64]decimal.Decimal, error) {
	ids := make(map[int64]struct{}, len(known))
	for _, c := range known {
		ids[c.ID] = struct{}{}
	}

	allocation := make(map[int64]decimal.Decimal)
	for _, def := range defs {
		if def.CategoryID == nil {
			continue
		}
		if _, ok := ids[*def.CategoryID]; !ok {
			return nil, fmt.Errorf("definition %d references category %d: %w",
				def.ID, *def.CategoryID, core.ErrCategoryNotFound)
		}
		c, err := MonthlyContribution(def)
		if err != nil {
			return nil, fmt.Errorf("contribution for definition %d: %w", def.ID, err)
		}
		allocation[*def.CategoryID] = allocation[*def.CategoryID].Add(c)
	}
	return allocation, nil
}

// BalanceView returns saved minus paid for a definition, zero when no
// balance record exists yet.
func BalanceView(balance *core.SavingBalance) core.Money {
	if balance == nil {
		return core.Money{}
	}
	return balance.Balance()
}
