// Package landedcost distributes order-level incidental fees across lines
// proportional to line value and derives the landed unit cost per line.
//
// Allocation happens in integer minor units (cents). Each line takes the
// floored share of the total fee; the rounding remainder goes to the last
// line so allocated fees always sum exactly to the fee total.
package landedcost

import "github.com/shopspring/decimal"

// Fees groups the order-level incidental cost fields.
type Fees struct {
	Freight        decimal.Decimal
	Logistics      decimal.Decimal
	CustomsTransit decimal.Decimal
}

// Total sums the three fee components.
func (f Fees) Total() decimal.Decimal {
	return f.Freight.Add(f.Logistics).Add(f.CustomsTransit)
}

// Line is one order line as seen by the allocator. Amount is the line value
// (quantity x unit price) used as the proration weight.
type Line struct {
	Quantity  float64
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// Allocation is the allocator output for one line.
type Allocation struct {
	Fee            decimal.Decimal
	LandedUnitCost decimal.Decimal
}

// Allocate prorates the fee total over lines by line value. A zero net
// amount (donated or zero-cost order) allocates nothing to every line.
// Negative fees are rejected at the document-entry boundary before this
// point.
func Allocate(netAmount decimal.Decimal, fees Fees, lines []Line) []Allocation {
	out := make([]Allocation, len(lines))
	if len(lines) == 0 {
		return out
	}

	totalCents := cents(fees.Total())
	netCents := cents(netAmount)
	if netCents.IsZero() || totalCents.IsZero() {
		for i, l := range lines {
			out[i] = Allocation{Fee: decimal.Zero, LandedUnitCost: l.UnitPrice}
		}
		return out
	}

	allocated := decimal.Zero
	for i, l := range lines {
		var feeCents decimal.Decimal
		if i == len(lines)-1 {
			feeCents = totalCents.Sub(allocated)
		} else {
			feeCents = totalCents.Mul(cents(l.Amount)).Div(netCents).Floor()
			allocated = allocated.Add(feeCents)
		}
		fee := fromCents(feeCents)
		out[i] = Allocation{Fee: fee, LandedUnitCost: landedUnitCost(l, fee)}
	}
	return out
}

func landedUnitCost(l Line, fee decimal.Decimal) decimal.Decimal {
	if l.Quantity <= 0 {
		return l.UnitPrice
	}
	return l.UnitPrice.Add(fee.Div(decimal.NewFromFloat(l.Quantity)))
}

func cents(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Round(0)
}

func fromCents(c decimal.Decimal) decimal.Decimal {
	return c.Shift(-2)
}
