package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"obraflow/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(qty, rate, tax string) domain.LineItem {
	return domain.LineItem{Title: "x", Quantity: d(qty), UnitRate: d(rate), TaxPercent: d(tax)}
}

func TestAggregateSingleItem(t *testing.T) {
	totals := Aggregate([]domain.LineItem{item("2", "10", "21")})
	assert.True(t, totals.Subtotal.Equal(d("20")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.TaxTotal.Equal(d("4.2")), "tax %s", totals.TaxTotal)
	assert.True(t, totals.Total.Equal(d("24.2")), "total %s", totals.Total)
}

func TestAggregateMixedTaxRates(t *testing.T) {
	totals := Aggregate([]domain.LineItem{
		item("3", "12.50", "21"),
		item("1", "100", "10"),
		item("4", "0.99", "0"),
	})
	assert.True(t, totals.Subtotal.Equal(d("141.46")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.TaxTotal.Equal(d("17.875")), "tax %s", totals.TaxTotal)
	assert.True(t, totals.Total.Equal(d("159.335")), "total %s", totals.Total)
}

func TestAggregateEmpty(t *testing.T) {
	totals := Aggregate(nil)
	assert.True(t, totals.Total.IsZero())
	assert.True(t, totals.Subtotal.IsZero())
}

func TestLineTotalWithTax(t *testing.T) {
	it := item("1.5", "40", "21")
	assert.True(t, LineAmount(it).Equal(d("60")))
	assert.True(t, LineTotalWithTax(it).Equal(d("72.6")))
}

func TestDepositAmount(t *testing.T) {
	total := d("1000")
	cases := []struct {
		name   string
		policy domain.DepositPolicy
		want   string
	}{
		{"none", domain.DepositPolicy{Kind: domain.DepositNone}, "0"},
		{"empty kind", domain.DepositPolicy{}, "0"},
		{"percentage", domain.DepositPolicy{Kind: domain.DepositPercentage, Value: d("30")}, "300"},
		{"fixed", domain.DepositPolicy{Kind: domain.DepositFixed, Value: d("250")}, "250"},
		{"fixed above total is not clamped", domain.DepositPolicy{Kind: domain.DepositFixed, Value: d("1500")}, "1500"},
		{"percentage above 100", domain.DepositPolicy{Kind: domain.DepositPercentage, Value: d("120")}, "1200"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DepositAmount(total, tc.policy)
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
	assert.True(t, DepositExceedsTotal(total, d("1500")))
	assert.False(t, DepositExceedsTotal(total, d("1000")))
}

func TestRemainingGoesNegative(t *testing.T) {
	assert.True(t, Remaining(d("100"), d("120")).Equal(d("-20")))
}
