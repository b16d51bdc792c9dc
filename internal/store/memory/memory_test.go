package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

func postFixtureSale(t *testing.T, s *Store, at time.Time) *domain.Transaction {
	t.Helper()
	tx, err := s.PostTransaction(context.Background(), domain.Transaction{
		TenantID:      SeedTenantID,
		OutletID:      SeedOutletID,
		UserID:        SeedAdminUserID,
		Subtotal:      10000,
		Tax:           1100,
		Total:         11100,
		PaymentMethod: "CASH",
		AmountPaid:    11100,
		CreatedAt:     at,
		Items: []domain.TransactionItem{{
			ProductID:   SeedProductKopi,
			ProductName: "Kopi Susu Gula Aren",
			ProductSKU:  "KOPI-01",
			Quantity:    1,
			UnitPrice:   10000,
			Subtotal:    10000,
			Tax:         1100,
		}},
	})
	if err != nil {
		t.Fatalf("post transaction: %v", err)
	}
	return tx
}

func TestRefundNumbersResetPerDay(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// Noon UTC is evening in Jakarta, safely inside the same business day.
	day1 := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)

	first := postFixtureSale(t, s, day1)
	second := postFixtureSale(t, s, day1)

	r1, _, err := s.CreateRefund(ctx, domain.Refund{
		TenantID: SeedTenantID, TransactionID: first.ID,
		Amount: 1000, Reason: "day one", CreatedAt: day1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Number != "RFD-20250110-0001" {
		t.Errorf("first refund number = %s", r1.Number)
	}

	r2, _, err := s.CreateRefund(ctx, domain.Refund{
		TenantID: SeedTenantID, TransactionID: second.ID,
		Amount: 1000, Reason: "day one again", CreatedAt: day1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r2.Number != "RFD-20250110-0002" {
		t.Errorf("second refund number = %s", r2.Number)
	}

	// Next business day starts back at 0001.
	r3, _, err := s.CreateRefund(ctx, domain.Refund{
		TenantID: SeedTenantID, TransactionID: first.ID,
		Amount: 1000, Reason: "day two", CreatedAt: day2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r3.Number != "RFD-20250111-0001" {
		t.Errorf("next-day refund number = %s", r3.Number)
	}
}

func TestTransactionNumbersScopedPerOutlet(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	branch, err := s.CreateOutlet(ctx, domain.Outlet{
		TenantID: SeedTenantID, Name: "Branch", Code: "BR1",
		Timezone: "Asia/Jakarta", TaxRate: 11, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	branchProduct, err := s.CreateProduct(ctx, domain.Product{
		TenantID: SeedTenantID, OutletID: branch.ID, Name: "Air Mineral",
		SKU: "AIR-01", SellingPrice: 4000, CurrentStock: 20,
		TrackStock: true, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	main := postFixtureSale(t, s, at)

	branchTx, err := s.PostTransaction(ctx, domain.Transaction{
		TenantID: SeedTenantID, OutletID: branch.ID, UserID: SeedAdminUserID,
		Total: 4000, PaymentMethod: "CARD", AmountPaid: 4000, CreatedAt: at,
		Items: []domain.TransactionItem{{
			ProductID: branchProduct.ID, ProductName: "Air Mineral",
			Quantity: 1, UnitPrice: 4000, Subtotal: 4000,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if main.Number != "MAIN-20250302-0001" {
		t.Errorf("main outlet number = %s", main.Number)
	}
	if branchTx.Number != "BR1-20250302-0001" {
		t.Errorf("branch outlet number = %s", branchTx.Number)
	}
}

func TestPostTransactionRejectsInactiveOutlet(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	branch, err := s.CreateOutlet(ctx, domain.Outlet{
		TenantID: SeedTenantID, Name: "Closing Down", Code: "BR9",
		Timezone: "Asia/Jakarta", IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{
		TenantID: SeedTenantID, OutletID: branch.ID, Name: "Sisa Stok",
		SKU: "SISA-01", SellingPrice: 1000, CurrentStock: 3,
		TrackStock: true, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeactivateOutlet(ctx, SeedTenantID, branch.ID); err != nil {
		t.Fatal(err)
	}

	_, err = s.PostTransaction(ctx, domain.Transaction{
		TenantID: SeedTenantID, OutletID: branch.ID, UserID: SeedAdminUserID,
		Total: 1000, PaymentMethod: "CASH", AmountPaid: 1000,
		CreatedAt: time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{{
			ProductID: product.ID, Quantity: 1, UnitPrice: 1000, Subtotal: 1000,
		}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("sale at inactive outlet: got %v", err)
	}
}

func TestPostTransactionProductScopedToOutlet(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	branch, err := s.CreateOutlet(ctx, domain.Outlet{
		TenantID: SeedTenantID, Name: "Branch", Code: "BR2",
		Timezone: "Asia/Jakarta", IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Main's coffee is invisible to the branch; its stock must not move.
	_, err = s.PostTransaction(ctx, domain.Transaction{
		TenantID: SeedTenantID, OutletID: branch.ID, UserID: SeedAdminUserID,
		Total: 11100, PaymentMethod: "CASH", AmountPaid: 11100,
		CreatedAt: time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{{
			ProductID: SeedProductKopi, Quantity: 1, UnitPrice: 10000, Subtotal: 10000,
		}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign-outlet product: got %v", err)
	}
	p, err := s.GetProductByID(ctx, SeedTenantID, SeedProductKopi)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 5 {
		t.Errorf("stock = %d, want 5", p.CurrentStock)
	}
}

func TestShiftNumbersUseShortSequence(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	shift, err := s.OpenShift(ctx, domain.Shift{
		TenantID: SeedTenantID, OutletID: SeedOutletID, UserID: SeedAdminUserID,
		OpeningFloat: 50000, OpenedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(shift.Number, "SHF-MAIN-20250302-") || !strings.HasSuffix(shift.Number, "-01") {
		t.Errorf("shift number = %s", shift.Number)
	}
}

func TestIdempotentPostReturnsOriginal(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	base := domain.Transaction{
		TenantID: SeedTenantID, OutletID: SeedOutletID, UserID: SeedAdminUserID,
		Total: 11100, PaymentMethod: "CASH", AmountPaid: 11100,
		IdempotencyKey: "memory-idem-1", CreatedAt: at,
		Items: []domain.TransactionItem{{
			ProductID: SeedProductKopi, Quantity: 1, UnitPrice: 10000, Subtotal: 10000,
		}},
	}
	first, err := s.PostTransaction(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.PostTransaction(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Number != first.Number {
		t.Fatalf("retry created a new transaction: %s vs %s", second.ID, first.ID)
	}

	p, err := s.GetProductByID(ctx, SeedTenantID, SeedProductKopi)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 4 {
		t.Errorf("stock = %d, want 4", p.CurrentStock)
	}
}
