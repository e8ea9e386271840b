// Package money computes line, document and deposit amounts. Inputs are
// assumed validated: negative quantities or rates are rejected by the domain
// layer before they reach these functions.
package money

import (
	"github.com/shopspring/decimal"

	"obraflow/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	TaxTotal decimal.Decimal `json:"tax_total"`
	Total    decimal.Decimal `json:"total"`
}

// LineAmount is quantity × unit rate, before tax.
func LineAmount(item domain.LineItem) decimal.Decimal {
	return item.Quantity.Mul(item.UnitRate)
}

func lineTax(item domain.LineItem) decimal.Decimal {
	return LineAmount(item).Mul(item.TaxPercent).Div(hundred)
}

func LineTotalWithTax(item domain.LineItem) decimal.Decimal {
	return LineAmount(item).Add(lineTax(item))
}

func Aggregate(items []domain.LineItem) Totals {
	t := Totals{Subtotal: decimal.Zero, TaxTotal: decimal.Zero}
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(LineAmount(it))
		t.TaxTotal = t.TaxTotal.Add(lineTax(it))
	}
	t.Total = t.Subtotal.Add(t.TaxTotal)
	return t
}

// DepositAmount is not clamped to [0, total]; a fixed deposit above the total
// is returned as is.
func DepositAmount(total decimal.Decimal, policy domain.DepositPolicy) decimal.Decimal {
	switch policy.Kind {
	case domain.DepositPercentage:
		return total.Mul(policy.Value).Div(hundred)
	case domain.DepositFixed:
		return policy.Value
	default:
		return decimal.Zero
	}
}

func DepositExceedsTotal(total, deposit decimal.Decimal) bool {
	return deposit.GreaterThan(total)
}

// Remaining is total − paid and goes negative on overpayment.
func Remaining(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}
