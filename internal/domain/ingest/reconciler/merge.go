package reconciler

import (
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/repository"
)

// MergeSigned folds slices that share a natural key into one. Provider
// reports list reversals ("storno") as separate lines with a negative unit
// price; a reversal consumes the quantity of the positive line, and once that
// is exhausted the record takes the reversal's price and quantity. Quantity
// signs are then aligned with the amount. Order of first appearance is kept.
func MergeSigned(slices []Slice) []Slice {
	index := make(map[repository.NaturalKey]int, len(slices))
	merged := make([]Slice, 0, len(slices))

	for _, s := range slices {
		i, ok := index[s.Key()]
		if !ok {
			if s.Quantity.IsZero() && !s.Amount.IsZero() {
				s.Quantity = decimal.NewFromInt(int64(s.Amount.Sign()))
			}
			if s.Measures != nil {
				own := make(map[string]decimal.Decimal, len(s.Measures))
				for k, v := range s.Measures {
					own[k] = v
				}
				s.Measures = own
			}
			index[s.Key()] = len(merged)
			merged = append(merged, s)
			continue
		}
		mergeInto(&merged[i], s)
	}

	for i := range merged {
		s := &merged[i]
		switch {
		case s.Amount.IsNegative() && s.Quantity.IsPositive():
			s.Quantity = s.Quantity.Neg()
		case s.Amount.IsPositive() && s.Quantity.IsNegative():
			s.Quantity = s.Quantity.Abs()
		}
	}
	return merged
}

func mergeInto(e *Slice, n Slice) {
	switch {
	case e.UnitPrice.IsPositive() && n.UnitPrice.IsNegative():
		e.Quantity = decimal.Max(decimal.Zero, e.Quantity.Sub(n.Quantity.Abs()))
		e.Amount = e.Amount.Add(n.Amount)
		if e.Quantity.IsZero() && e.Amount.IsNegative() {
			e.UnitPrice = n.UnitPrice
			e.Quantity = n.Quantity.Abs()
		}

	case e.UnitPrice.IsNegative() && n.UnitPrice.IsNegative():
		e.Quantity = e.Quantity.Add(n.Quantity)
		e.Amount = e.Amount.Add(n.Amount)

	case e.UnitPrice.IsNegative() && n.UnitPrice.IsPositive():
		e.Quantity = decimal.Max(decimal.Zero, e.Quantity.Abs().Sub(n.Quantity))
		e.Amount = e.Amount.Add(n.Amount)
		if e.Quantity.IsZero() && e.Amount.IsPositive() {
			e.UnitPrice = n.UnitPrice
			e.Quantity = n.Quantity
		}

	default:
		// same sign, or a zero price: the lines are split activity of one service
		e.Quantity = e.Quantity.Add(n.Quantity)
		e.Amount = e.Amount.Add(n.Amount)
	}

	for k, v := range n.Measures {
		if e.Measures == nil {
			e.Measures = make(map[string]decimal.Decimal)
		}
		e.Measures[k] = e.Measures[k].Add(v)
	}
}
