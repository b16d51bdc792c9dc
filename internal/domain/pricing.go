package domain

import (
	"fmt"
	"math"
	"time"
)

// ResolveUnitPrice returns the effective price for one unit: the best
// matching price tier (highest MinQuantity <= quantity) or the base
// selling price, plus the variant adjustment.
func ResolveUnitPrice(p Product, variant *ProductVariant, quantity int) int64 {
	price := p.SellingPrice
	best := 0
	for _, tier := range p.PriceTiers {
		if quantity >= tier.MinQuantity && tier.MinQuantity >= best {
			best = tier.MinQuantity
			price = tier.UnitPrice
		}
	}
	if variant != nil {
		price += variant.PriceAdjustment
	}
	return price
}

// LineAmounts computes the taxable subtotal and tax for one sale line.
// The subtotal is price*qty minus the line discount, floored at zero;
// tax applies after the discount and rounds half away from zero.
func LineAmounts(unitPrice int64, quantity int, discount int64, taxRate float64, taxable bool) (subtotal, tax int64) {
	subtotal = unitPrice*int64(quantity) - discount
	if subtotal < 0 {
		subtotal = 0
	}
	if taxable && taxRate > 0 {
		tax = int64(math.Round(float64(subtotal) * taxRate / 100))
	}
	return subtotal, tax
}

// Totals sums item lines into transaction totals and resolves payment.
// For CASH the caller's amountPaid must cover the total and the change
// is returned; other methods record amountPaid as provided with no
// change. The transaction discount may not exceed subtotal plus tax.
func Totals(items []TransactionItem, discount, amountPaid int64, paymentMethod string) (subtotal, tax, total, paid, change int64, err error) {
	for _, it := range items {
		subtotal += it.Subtotal
		tax += it.Tax
	}
	total = subtotal + tax - discount
	if total < 0 {
		return 0, 0, 0, 0, 0, fmt.Errorf("discount %d exceeds subtotal plus tax %d", discount, subtotal+tax)
	}
	if paymentMethod == "CASH" {
		if amountPaid < total {
			return 0, 0, 0, 0, 0, fmt.Errorf("amount paid %d is less than total %d", amountPaid, total)
		}
		return subtotal, tax, total, amountPaid, amountPaid - total, nil
	}
	return subtotal, tax, total, amountPaid, 0, nil
}

// FormatTransactionNumber renders {CODE}-{YYYYMMDD}-{NNNN} in the
// outlet's local day.
func FormatTransactionNumber(outletCode string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", outletCode, day.Format("20060102"), seq)
}

func FormatRefundNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("RFD-%s-%04d", day.Format("20060102"), seq)
}

func FormatShiftNumber(outletCode string, day time.Time, seq int64) string {
	return fmt.Sprintf("SHF-%s-%s-%02d", outletCode, day.Format("20060102"), seq)
}

// BusinessDay truncates t to midnight in the given zone. Sequence
// counters and receipt numbers reset on this boundary.
func BusinessDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
