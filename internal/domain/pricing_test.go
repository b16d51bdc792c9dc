package domain

import (
	"testing"
	"time"
)

func TestResolveUnitPricePicksHighestMatchingTier(t *testing.T) {
	p := Product{
		SellingPrice: 10000,
		PriceTiers: []PriceTier{
			{MinQuantity: 10, UnitPrice: 8500},
			{MinQuantity: 5, UnitPrice: 9000},
		},
	}
	cases := []struct {
		qty  int
		want int64
	}{
		{1, 10000},
		{4, 10000},
		{5, 9000},
		{9, 9000},
		{10, 8500},
		{50, 8500},
	}
	for _, c := range cases {
		if got := ResolveUnitPrice(p, nil, c.qty); got != c.want {
			t.Errorf("qty %d: got %d, want %d", c.qty, got, c.want)
		}
	}
}

func TestResolveUnitPriceVariantAdjustment(t *testing.T) {
	p := Product{SellingPrice: 10000}
	v := &ProductVariant{Name: "Large", PriceAdjustment: 2000}
	if got := ResolveUnitPrice(p, v, 1); got != 12000 {
		t.Fatalf("got %d, want 12000", got)
	}
	v.PriceAdjustment = -1500
	if got := ResolveUnitPrice(p, v, 1); got != 8500 {
		t.Fatalf("got %d, want 8500", got)
	}
}

func TestLineAmounts(t *testing.T) {
	sub, tax := LineAmounts(10000, 2, 0, 11, true)
	if sub != 20000 || tax != 2200 {
		t.Fatalf("got subtotal=%d tax=%d, want 20000/2200", sub, tax)
	}

	sub, tax = LineAmounts(10000, 2, 5000, 11, true)
	if sub != 15000 || tax != 1650 {
		t.Fatalf("got subtotal=%d tax=%d, want 15000/1650", sub, tax)
	}

	sub, tax = LineAmounts(10000, 1, 0, 11, false)
	if sub != 10000 || tax != 0 {
		t.Fatalf("non-taxable: got subtotal=%d tax=%d", sub, tax)
	}

	// discount larger than the line floors at zero
	sub, tax = LineAmounts(1000, 1, 5000, 11, true)
	if sub != 0 || tax != 0 {
		t.Fatalf("oversized discount: got subtotal=%d tax=%d", sub, tax)
	}
}

func TestTotalsCashChange(t *testing.T) {
	items := []TransactionItem{{Subtotal: 20000, Tax: 2200}}
	sub, tax, total, paid, change, err := Totals(items, 0, 25000, "CASH")
	if err != nil {
		t.Fatal(err)
	}
	if sub != 20000 || tax != 2200 || total != 22200 {
		t.Fatalf("got sub=%d tax=%d total=%d", sub, tax, total)
	}
	if paid != 25000 || change != 2800 {
		t.Fatalf("got paid=%d change=%d, want 25000/2800", paid, change)
	}
}

func TestTotalsCashUnderpaymentRejected(t *testing.T) {
	items := []TransactionItem{{Subtotal: 20000, Tax: 2200}}
	if _, _, _, _, _, err := Totals(items, 0, 20000, "CASH"); err == nil {
		t.Fatal("expected error for underpayment")
	}
}

func TestTotalsNonCashRecordsAmountPaidAsGiven(t *testing.T) {
	items := []TransactionItem{{Subtotal: 20000, Tax: 2200}}
	_, _, total, paid, change, err := Totals(items, 0, 30000, "QRIS")
	if err != nil {
		t.Fatal(err)
	}
	if total != 22200 || paid != 30000 || change != 0 {
		t.Fatalf("got total=%d paid=%d change=%d, want 22200/30000/0", total, paid, change)
	}
}

func TestTotalsRejectsDiscountAboveSubtotalPlusTax(t *testing.T) {
	items := []TransactionItem{{Subtotal: 20000, Tax: 2200}}
	if _, _, _, _, _, err := Totals(items, 25000, 0, "QRIS"); err == nil {
		t.Fatal("expected error for oversized discount")
	}
	// Exactly subtotal+tax is still a valid free sale.
	_, _, total, _, _, err := Totals(items, 22200, 0, "QRIS")
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

func TestFormatNumbers(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := FormatTransactionNumber("MAIN", day, 1); got != "MAIN-20250101-0001" {
		t.Fatalf("got %q", got)
	}
	if got := FormatRefundNumber(day, 12); got != "RFD-20250101-0012" {
		t.Fatalf("got %q", got)
	}
}

func TestBusinessDayUsesLocalZone(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	// 18:30 UTC is already the next day in Jakarta.
	utc := time.Date(2025, 1, 1, 18, 30, 0, 0, time.UTC)
	day := BusinessDay(utc, jakarta)
	if day.Day() != 2 {
		t.Fatalf("got day %d, want 2", day.Day())
	}
	if h, m, s := day.Clock(); h != 0 || m != 0 || s != 0 {
		t.Fatalf("not midnight: %v", day)
	}
}
