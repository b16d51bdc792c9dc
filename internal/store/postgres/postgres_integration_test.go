package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

// Requires a disposable database, e.g.
// TEST_DATABASE_URL=postgres://localhost:5432/tokopos_test go test ./internal/store/postgres/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type fixture struct {
	tenantID  string
	outletID  string
	userID    string
	productID string
}

func seedFixture(t *testing.T, s *Store, stock int) fixture {
	t.Helper()
	ctx := context.Background()
	suffix := xid.New("t")

	f := fixture{
		tenantID:  "tenant-" + suffix,
		outletID:  "outlet-" + suffix,
		userID:    "user-" + suffix,
		productID: "prod-" + suffix,
	}

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	mustExec(`INSERT INTO tenants (id, name, plan_code) VALUES ($1, 'Test Tenant', 'PRO')`, f.tenantID)
	mustExec(`INSERT INTO outlets (id, tenant_id, name, code, timezone) VALUES ($1, $2, 'Main', $3, 'Asia/Jakarta')`,
		f.outletID, f.tenantID, "M"+suffix[len(suffix)-6:])
	mustExec(`INSERT INTO roles (id, tenant_id, name, permissions) VALUES ($1, $2, 'admin', '*')`,
		"role-"+suffix, f.tenantID)
	mustExec(`INSERT INTO users (id, tenant_id, username, email, password_hash, role_id)
		VALUES ($1, $2, $3, $4, 'x', $5)`,
		f.userID, f.tenantID, "u"+suffix, suffix+"@test.local", "role-"+suffix)
	mustExec(`INSERT INTO products (id, tenant_id, outlet_id, name, sku, selling_price, current_stock, track_stock, tax_rate, is_taxable)
		VALUES ($1, $2, $3, 'Kopi', $4, 10000, $5, true, 11, true)`,
		f.productID, f.tenantID, f.outletID, "SKU-"+suffix, stock)

	return f
}

func saleFor(f fixture, qty int, idemKey string) domain.Transaction {
	subtotal := int64(qty) * 10000
	tax := subtotal * 11 / 100
	return domain.Transaction{
		TenantID:       f.tenantID,
		OutletID:       f.outletID,
		UserID:         f.userID,
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal + tax,
		PaymentMethod:  "QRIS",
		AmountPaid:     subtotal + tax,
		IdempotencyKey: idemKey,
		CreatedAt:      time.Now().UTC(),
		Items: []domain.TransactionItem{{
			ProductID:   f.productID,
			ProductName: "Kopi",
			ProductSKU:  "SKU",
			Quantity:    qty,
			UnitPrice:   10000,
			Tax:         tax,
			Subtotal:    subtotal,
		}},
	}
}

func TestPostTransactionConcurrentStockSafety(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 1)
	ctx := context.Background()

	const posters = 8
	var wg sync.WaitGroup
	errs := make([]error, posters)
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.PostTransaction(ctx, saleFor(f, 1, fmt.Sprintf("key-%s-%d", f.tenantID, i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 success, got %d", succeeded)
	}

	p, err := s.GetProductByID(ctx, f.tenantID, f.productID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 0 {
		t.Fatalf("stock = %d, want 0", p.CurrentStock)
	}
}

func TestPostTransactionIdempotencyReturnsWinner(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 10)
	ctx := context.Background()

	key := "retry-" + f.tenantID
	first, err := s.PostTransaction(ctx, saleFor(f, 2, key))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.PostTransaction(ctx, saleFor(f, 2, key))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Number != first.Number {
		t.Fatalf("retry returned a different transaction: %s vs %s", second.ID, first.ID)
	}

	p, err := s.GetProductByID(ctx, f.tenantID, f.productID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 8 {
		t.Fatalf("stock decremented twice: %d", p.CurrentStock)
	}
}

func TestConcurrentPostersGetDistinctNumbers(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 100)
	ctx := context.Background()

	const posters = 10
	var wg sync.WaitGroup
	numbers := make([]string, posters)
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := s.PostTransaction(ctx, saleFor(f, 1, fmt.Sprintf("num-%s-%d", f.tenantID, i)))
			if err != nil {
				t.Errorf("post %d: %v", i, err)
				return
			}
			numbers[i] = tx.Number
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, n := range numbers {
		if n == "" {
			continue
		}
		if seen[n] {
			t.Fatalf("duplicate transaction number %s", n)
		}
		seen[n] = true
	}
}

func TestPostTransactionScopedToOutlet(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 5)
	ctx := context.Background()

	branchID := "outlet-b-" + f.tenantID
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO outlets (id, tenant_id, name, code, timezone) VALUES ($1, $2, 'Branch', $3, 'Asia/Jakarta')
	`, branchID, f.tenantID, "B"+branchID[len(branchID)-6:]); err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	// The fixture product belongs to the fixture outlet only.
	sale := saleFor(f, 1, "scope-"+f.tenantID)
	sale.OutletID = branchID
	if _, err := s.PostTransaction(ctx, sale); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign-outlet product: got %v", err)
	}
	p, err := s.GetProductByID(ctx, f.tenantID, f.productID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 5 {
		t.Fatalf("stock decremented across outlets: %d", p.CurrentStock)
	}

	// A shift opened at the branch cannot take the fixture outlet's sales.
	shiftID := "shift-" + f.tenantID
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, tenant_id, outlet_id, user_id, number, status)
		VALUES ($1, $2, $3, $4, 'SHF-TEST-01', 'OPEN')
	`, shiftID, f.tenantID, branchID, f.userID); err != nil {
		t.Fatalf("seed shift: %v", err)
	}
	sale = saleFor(f, 1, "scope2-"+f.tenantID)
	sale.ShiftID = shiftID
	if _, err := s.PostTransaction(ctx, sale); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("foreign-outlet shift: got %v", err)
	}
}

func TestRefundBalanceAndStatus(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 10)
	ctx := context.Background()

	tx, err := s.PostTransaction(ctx, saleFor(f, 2, "refund-"+f.tenantID))
	if err != nil {
		t.Fatal(err)
	}

	partial, status, err := s.CreateRefund(ctx, domain.Refund{
		TenantID:      f.tenantID,
		TransactionID: tx.ID,
		Amount:        tx.Total / 2,
		Reason:        "damaged",
		Status:        domain.RefundStatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.TxStatusPartialRefund {
		t.Fatalf("status = %s, want PARTIAL_REFUND", status)
	}
	if partial.Number == "" {
		t.Fatal("refund number not assigned")
	}

	// Over-refunding the remainder must fail.
	if _, _, err := s.CreateRefund(ctx, domain.Refund{
		TenantID:      f.tenantID,
		TransactionID: tx.ID,
		Amount:        tx.Total,
		Reason:        "too much",
		Status:        domain.RefundStatusPending,
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, status, err = s.CreateRefund(ctx, domain.Refund{
		TenantID:      f.tenantID,
		TransactionID: tx.ID,
		Amount:        tx.Total - partial.Amount,
		Reason:        "rest",
		Status:        domain.RefundStatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.TxStatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", status)
	}
}

func TestVoidRestocksAndBlocksRefund(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s, 5)
	ctx := context.Background()

	tx, err := s.PostTransaction(ctx, saleFor(f, 3, "void-"+f.tenantID))
	if err != nil {
		t.Fatal(err)
	}

	voided, err := s.VoidTransaction(ctx, f.tenantID, tx.ID, "test void", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if voided.Status != domain.TxStatusVoid {
		t.Fatalf("status = %s", voided.Status)
	}

	p, err := s.GetProductByID(ctx, f.tenantID, f.productID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStock != 5 {
		t.Fatalf("stock = %d, want 5 after restock", p.CurrentStock)
	}

	if _, _, err := s.CreateRefund(ctx, domain.Refund{
		TenantID:      f.tenantID,
		TransactionID: tx.ID,
		Amount:        100,
		Reason:        "no",
		Status:        domain.RefundStatusPending,
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for voided tx, got %v", err)
	}
}
