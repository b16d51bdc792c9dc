package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// tenants and billing

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, plan_code, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.PlanCode, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetBillingPlan(ctx context.Context, code string) (*domain.BillingPlan, error) {
	var p domain.BillingPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, max_outlets, max_products, max_users, max_transactions_per_month
		FROM billing_plans
		WHERE code = $1
	`, code).Scan(&p.Code, &p.Name, &p.MaxOutlets, &p.MaxProducts, &p.MaxUsers, &p.MaxTransactionsPerMonth)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetBillingUsage(ctx context.Context, tenantID string, monthStart time.Time) (*domain.BillingUsage, error) {
	var usage domain.BillingUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM outlets WHERE tenant_id = $1 AND is_active = true),
			(SELECT count(*) FROM products WHERE tenant_id = $1 AND is_active = true),
			(SELECT count(*) FROM users WHERE tenant_id = $1 AND is_active = true),
			(SELECT count(*) FROM transactions WHERE tenant_id = $1 AND created_at >= $2)
	`, tenantID, monthStart).Scan(&usage.Outlets, &usage.Products, &usage.Users, &usage.TransactionsMonth)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// outlets

func (s *Store) CreateOutlet(ctx context.Context, outlet domain.Outlet) (*domain.Outlet, error) {
	if outlet.ID == "" {
		outlet.ID = xid.New("outlet")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outlets (id, tenant_id, name, code, type, phone, email, address, city, timezone, currency, tax_rate, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
	`, outlet.ID, outlet.TenantID, outlet.Name, outlet.Code, nullIfEmpty(outlet.Type), nullIfEmpty(outlet.Phone),
		nullIfEmpty(outlet.Email), nullIfEmpty(outlet.Address), nullIfEmpty(outlet.City),
		outlet.Timezone, outlet.Currency, outlet.TaxRate, outlet.IsActive, outlet.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := outlet
	return &created, nil
}

const outletColumns = `id, tenant_id, name, code, COALESCE(type,''), COALESCE(phone,''), COALESCE(email,''),
	COALESCE(address,''), COALESCE(city,''), timezone, currency, tax_rate, is_active, created_at, updated_at`

func scanOutlet(row interface{ Scan(...any) error }) (*domain.Outlet, error) {
	var o domain.Outlet
	err := row.Scan(&o.ID, &o.TenantID, &o.Name, &o.Code, &o.Type, &o.Phone, &o.Email,
		&o.Address, &o.City, &o.Timezone, &o.Currency, &o.TaxRate, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOutletByID(ctx context.Context, tenantID, outletID string) (*domain.Outlet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+outletColumns+`
		FROM outlets
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, outletID)
	return scanOutlet(row)
}

func (s *Store) ListOutlets(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Outlet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outletColumns+`
		FROM outlets
		WHERE tenant_id = $1 AND (is_active = true OR $2)
		ORDER BY name
	`, tenantID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outlets := make([]domain.Outlet, 0, 8)
	for rows.Next() {
		o, err := scanOutlet(rows)
		if err != nil {
			return nil, err
		}
		outlets = append(outlets, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outlets, nil
}

func (s *Store) UpdateOutlet(ctx context.Context, outlet domain.Outlet) (*domain.Outlet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outlets
		SET name = $3, code = $4, type = $5, phone = $6, email = $7, address = $8, city = $9,
			tax_rate = $10, is_active = $11, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, outlet.TenantID, outlet.ID, outlet.Name, outlet.Code, nullIfEmpty(outlet.Type), nullIfEmpty(outlet.Phone),
		nullIfEmpty(outlet.Email), nullIfEmpty(outlet.Address), nullIfEmpty(outlet.City), outlet.TaxRate, outlet.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOutletByID(ctx, outlet.TenantID, outlet.ID)
}

func (s *Store) GetOutletUsage(ctx context.Context, tenantID, outletID string) (*domain.OutletUsage, error) {
	if _, err := s.GetOutletByID(ctx, tenantID, outletID); err != nil {
		return nil, err
	}
	var usage domain.OutletUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM users WHERE outlet_id = $1 AND is_active = true),
			(SELECT count(*) FROM products WHERE outlet_id = $1 AND is_active = true),
			(SELECT count(*) FROM transactions WHERE outlet_id = $1)
	`, outletID).Scan(&usage.Users, &usage.Products, &usage.Transactions)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (s *Store) DeactivateOutlet(ctx context.Context, tenantID, outletID string) (*domain.Outlet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outlets
		SET is_active = false, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, outletID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOutletByID(ctx, tenantID, outletID)
}

// categories

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.TenantID, category.Name, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, created_at
		FROM categories
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) DeleteCategory(ctx context.Context, tenantID, categoryID string) error {
	var inUse int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM products WHERE tenant_id = $1 AND category_id = $2 AND is_active = true
	`, tenantID, categoryID).Scan(&inUse)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return store.ErrConflict
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM categories WHERE tenant_id = $1 AND id = $2
	`, tenantID, categoryID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// products

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, outlet_id, category_id, name, description, sku, barcode,
			selling_price, cost_price, current_stock, min_stock, unit, tax_rate, is_taxable, track_stock,
			is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
	`, product.ID, product.TenantID, product.OutletID, nullIfEmpty(product.CategoryID), product.Name,
		nullIfEmpty(product.Description), product.SKU, nullIfEmpty(product.Barcode), product.SellingPrice,
		product.CostPrice, product.CurrentStock, product.MinStock, product.Unit, product.TaxRate,
		product.IsTaxable, product.TrackStock, product.IsActive, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := replaceVariantsAndTiers(ctx, tx, &product); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func replaceVariantsAndTiers(ctx context.Context, tx *sql.Tx, product *domain.Product) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1`, product.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_tiers WHERE product_id = $1`, product.ID); err != nil {
		return err
	}
	for i := range product.Variants {
		v := &product.Variants[i]
		if v.ID == "" {
			v.ID = xid.New("var")
		}
		v.ProductID = product.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_variants (id, product_id, name, sku_suffix, price_adjustment, is_active)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, v.ID, product.ID, v.Name, nullIfEmpty(v.SKUSuffix), v.PriceAdjustment, v.IsActive); err != nil {
			return err
		}
	}
	for _, tier := range product.PriceTiers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_tiers (product_id, min_quantity, unit_price)
			VALUES ($1,$2,$3)
		`, product.ID, tier.MinQuantity, tier.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

const productColumns = `id, tenant_id, outlet_id, COALESCE(category_id,''), name, COALESCE(description,''),
	sku, COALESCE(barcode,''), selling_price, cost_price, current_stock, min_stock, unit, tax_rate,
	is_taxable, track_stock, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.OutletID, &p.CategoryID, &p.Name, &p.Description,
		&p.SKU, &p.Barcode, &p.SellingPrice, &p.CostPrice, &p.CurrentStock, &p.MinStock, &p.Unit,
		&p.TaxRate, &p.IsTaxable, &p.TrackStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByID(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID)
	p, err := scanProduct(row)
	if err != nil {
		return nil, err
	}
	if err := s.attachVariantsAndTiers(ctx, []*domain.Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + productColumns + ` FROM products WHERE tenant_id = $1`)
	args := []any{tenantID}

	if !filter.IncludeInactive {
		sb.WriteString(` AND is_active = true`)
	}
	if filter.OutletID != "" {
		args = append(args, filter.OutletID)
		fmt.Fprintf(&sb, ` AND outlet_id = $%d`, len(args))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		fmt.Fprintf(&sb, ` AND category_id = $%d`, len(args))
	}
	if filter.LowStockOnly {
		sb.WriteString(` AND track_stock = true AND current_stock <= min_stock`)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		fmt.Fprintf(&sb, ` AND (name ILIKE $%d OR sku ILIKE $%d OR barcode ILIKE $%d)`, len(args), len(args), len(args))
	}
	sb.WriteString(` ORDER BY name`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	refs := make([]*domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
		refs = append(refs, &products[len(products)-1])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachVariantsAndTiers(ctx, refs); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) attachVariantsAndTiers(ctx context.Context, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, 0, len(products))
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, name, COALESCE(sku_suffix,''), price_adjustment, is_active
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY name
	`, ids)
	if err != nil {
		return err
	}
	for variantRows.Next() {
		var v domain.ProductVariant
		if err := variantRows.Scan(&v.ID, &v.ProductID, &v.Name, &v.SKUSuffix, &v.PriceAdjustment, &v.IsActive); err != nil {
			_ = variantRows.Close()
			return err
		}
		if p, ok := byID[v.ProductID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	if err := variantRows.Err(); err != nil {
		_ = variantRows.Close()
		return err
	}
	_ = variantRows.Close()

	tierRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, min_quantity, unit_price
		FROM price_tiers
		WHERE product_id = ANY($1)
		ORDER BY min_quantity
	`, ids)
	if err != nil {
		return err
	}
	defer tierRows.Close()
	for tierRows.Next() {
		var productID string
		var tier domain.PriceTier
		if err := tierRows.Scan(&productID, &tier.MinQuantity, &tier.UnitPrice); err != nil {
			return err
		}
		if p, ok := byID[productID]; ok {
			p.PriceTiers = append(p.PriceTiers, tier)
		}
	}
	return tierRows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET category_id = $3, name = $4, description = $5, sku = $6, barcode = $7, selling_price = $8,
			cost_price = $9, min_stock = $10, unit = $11, tax_rate = $12, is_taxable = $13,
			track_stock = $14, is_active = $15, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, product.TenantID, product.ID, nullIfEmpty(product.CategoryID), product.Name, nullIfEmpty(product.Description),
		product.SKU, nullIfEmpty(product.Barcode), product.SellingPrice, product.CostPrice, product.MinStock,
		product.Unit, product.TaxRate, product.IsTaxable, product.TrackStock, product.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := replaceVariantsAndTiers(ctx, tx, &product); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProductByID(ctx, product.TenantID, product.ID)
}

func (s *Store) DeactivateProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET is_active = false, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, tenantID, productID)
}

func (s *Store) AdjustStock(ctx context.Context, tenantID, productID string, delta int) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND current_stock + $3 >= 0
	`, tenantID, productID, delta)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a missing product from a rejected decrement.
		if _, getErr := s.GetProductByID(ctx, tenantID, productID); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrInsufficientStock
	}
	return s.GetProductByID(ctx, tenantID, productID)
}

func (s *Store) CountProducts(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM products WHERE tenant_id = $1 AND is_active = true
	`, tenantID).Scan(&count)
	return count, err
}

// sequence counters

// nextSeq atomically advances the day-scoped counter and returns the new
// value. Concurrent posters serialize on the counter row, so two
// transactions can never share a receipt number.
func nextSeq(ctx context.Context, q querier, tenantID, scope string, day time.Time) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO sequence_counters (tenant_id, scope, day, value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, scope, day)
		DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value
	`, tenantID, scope, day).Scan(&value)
	return value, err
}

// transactions

func (s *Store) FindTransactionByIdempotency(ctx context.Context, tenantID, key string) (*domain.Transaction, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM transactions WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.loadTransaction(ctx, s.db, tenantID, id)
}

func (s *Store) GetTransactionByID(ctx context.Context, tenantID, id string) (*domain.Transaction, error) {
	return s.loadTransaction(ctx, s.db, tenantID, id)
}

func (s *Store) GetTransactionByNumber(ctx context.Context, tenantID, number string) (*domain.Transaction, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM transactions WHERE tenant_id = $1 AND number = $2
	`, tenantID, number).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.loadTransaction(ctx, s.db, tenantID, id)
}

const transactionColumns = `id, tenant_id, outlet_id, user_id, COALESCE(shift_id,''), number, subtotal,
	discount, tax, total, payment_method, amount_paid, change_amount, status, COALESCE(customer_name,''),
	COALESCE(customer_phone,''), COALESCE(idempotency_key,''), COALESCE(local_id,''), is_offline_sync,
	COALESCE(void_reason,''), voided_at, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var voidedAt sql.NullTime
	err := row.Scan(&t.ID, &t.TenantID, &t.OutletID, &t.UserID, &t.ShiftID, &t.Number, &t.Subtotal,
		&t.Discount, &t.Tax, &t.Total, &t.PaymentMethod, &t.AmountPaid, &t.ChangeAmount, &t.Status,
		&t.CustomerName, &t.CustomerPhone, &t.IdempotencyKey, &t.LocalID, &t.IsOfflineSync,
		&t.VoidReason, &voidedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if voidedAt.Valid {
		t.VoidedAt = &voidedAt.Time
	}
	return &t, nil
}

func (s *Store) loadTransaction(ctx context.Context, q querier, tenantID, id string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if err := attachItems(ctx, q, []*domain.Transaction{t}); err != nil {
		return nil, err
	}
	if err := attachRefunds(ctx, q, []*domain.Transaction{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func attachItems(ctx context.Context, q querier, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(txs))
	byID := make(map[string]*domain.Transaction, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
		byID[t.ID] = t
	}
	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id, product_id, product_name, product_sku, COALESCE(variant_id,''),
			COALESCE(variant_name,''), quantity, unit_price, discount, tax, subtotal
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var txID string
		var item domain.TransactionItem
		if err := rows.Scan(&txID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.VariantID,
			&item.VariantName, &item.Quantity, &item.UnitPrice, &item.Discount, &item.Tax, &item.Subtotal); err != nil {
			return err
		}
		if t, ok := byID[txID]; ok {
			t.Items = append(t.Items, item)
		}
	}
	return rows.Err()
}

func attachRefunds(ctx context.Context, q querier, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(txs))
	byID := make(map[string]*domain.Transaction, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
		byID[t.ID] = t
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_id, number, amount, reason, status, COALESCE(approved_by,''),
			approved_at, created_at
		FROM refunds
		WHERE transaction_id = ANY($1)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Refund
		var approvedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.TenantID, &r.TransactionID, &r.Number, &r.Amount, &r.Reason,
			&r.Status, &r.ApprovedBy, &approvedAt, &r.CreatedAt); err != nil {
			return err
		}
		if approvedAt.Valid {
			r.ApprovedAt = &approvedAt.Time
		}
		if t, ok := byID[r.TransactionID]; ok {
			t.Refunds = append(t.Refunds, r)
		}
	}
	return rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = $1`)
	args := []any{tenantID}

	if filter.OutletID != "" {
		args = append(args, filter.OutletID)
		fmt.Fprintf(&sb, ` AND outlet_id = $%d`, len(args))
	}
	if filter.ShiftID != "" {
		args = append(args, filter.ShiftID)
		fmt.Fprintf(&sb, ` AND shift_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, ` AND status = $%d`, len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		fmt.Fprintf(&sb, ` AND created_at >= $%d`, len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		fmt.Fprintf(&sb, ` AND created_at <= $%d`, len(args))
	}
	sb.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 32)
	refs := make([]*domain.Transaction, 0, 32)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
		refs = append(refs, &transactions[len(transactions)-1])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachItems(ctx, s.db, refs); err != nil {
		return nil, err
	}
	if err := attachRefunds(ctx, s.db, refs); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) PostTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if tx.IdempotencyKey != "" {
		if existing, err := s.FindTransactionByIdempotency(ctx, tx.TenantID, tx.IdempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	// Read committed is enough here: the stock guard lives inside the
	// UPDATE itself and the sequence counter serializes on its own row,
	// so concurrent posters block instead of failing on serialization.
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var outletCode, timezone string
	err = pgTx.QueryRowContext(ctx, `
		SELECT code, timezone FROM outlets WHERE tenant_id = $1 AND id = $2 AND is_active = true
	`, tx.TenantID, tx.OutletID).Scan(&outletCode, &timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	// Decrement stock with the guard in the statement itself; an affected
	// count of zero means the product is gone, inactive, or short.
	needed := map[string]int{}
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		needed[item.ProductID] += item.Quantity
	}
	for productID, qty := range needed {
		var trackStock, isActive bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT track_stock, is_active FROM products
			WHERE tenant_id = $1 AND id = $2 AND outlet_id = $3
			FOR UPDATE
		`, tx.TenantID, productID, tx.OutletID).Scan(&trackStock, &isActive)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %s unavailable: %w", productID, store.ErrNotFound)
			}
			return nil, err
		}
		if !isActive {
			return nil, fmt.Errorf("product %s unavailable: %w", productID, store.ErrNotFound)
		}
		if !trackStock {
			continue
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock - $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2 AND current_stock >= $3
		`, tx.TenantID, productID, qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	loc := time.UTC
	if l, err := time.LoadLocation(timezone); err == nil {
		loc = l
	}
	day := domain.BusinessDay(tx.CreatedAt, loc)
	seq, err := nextSeq(ctx, pgTx, tx.TenantID, "tx|"+tx.OutletID, day)
	if err != nil {
		return nil, err
	}
	tx.Number = domain.FormatTransactionNumber(outletCode, day, seq)
	tx.Status = domain.TxStatusCompleted

	if tx.ShiftID != "" {
		var shiftOutlet, shiftStatus string
		err := pgTx.QueryRowContext(ctx, `
			SELECT outlet_id, status FROM shifts
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE
		`, tx.TenantID, tx.ShiftID).Scan(&shiftOutlet, &shiftStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("shift %s not open: %w", tx.ShiftID, store.ErrInvalidRequest)
			}
			return nil, err
		}
		if shiftStatus != domain.ShiftStatusOpen {
			return nil, fmt.Errorf("shift %s not open: %w", tx.ShiftID, store.ErrInvalidRequest)
		}
		if shiftOutlet != tx.OutletID {
			return nil, fmt.Errorf("shift %s belongs to another outlet: %w", tx.ShiftID, store.ErrInvalidRequest)
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE shifts
			SET total_transactions = total_transactions + 1, total_sales = total_sales + $3
			WHERE tenant_id = $1 AND id = $2
		`, tx.TenantID, tx.ShiftID, tx.Total)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, tenant_id, outlet_id, user_id, shift_id, number, subtotal, discount,
			tax, total, payment_method, amount_paid, change_amount, status, customer_name, customer_phone,
			idempotency_key, local_id, is_offline_sync, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, tx.ID, tx.TenantID, tx.OutletID, tx.UserID, nullIfEmpty(tx.ShiftID), tx.Number, tx.Subtotal,
		tx.Discount, tx.Tax, tx.Total, tx.PaymentMethod, tx.AmountPaid, tx.ChangeAmount, tx.Status,
		nullIfEmpty(tx.CustomerName), nullIfEmpty(tx.CustomerPhone), nullIfEmpty(tx.IdempotencyKey),
		nullIfEmpty(tx.LocalID), tx.IsOfflineSync, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && tx.IdempotencyKey != "" {
			// Lost the race; the winner's row is the answer.
			_ = pgTx.Rollback()
			return s.FindTransactionByIdempotency(ctx, tx.TenantID, tx.IdempotencyKey)
		}
		return nil, err
	}

	for i, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, line_no, product_id, product_name, product_sku,
				variant_id, variant_name, quantity, unit_price, discount, tax, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, tx.ID, i+1, item.ProductID, item.ProductName, item.ProductSKU, nullIfEmpty(item.VariantID),
			nullIfEmpty(item.VariantName), item.Quantity, item.UnitPrice, item.Discount, item.Tax, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.loadTransaction(ctx, s.db, tx.TenantID, tx.ID)
}

func (s *Store) GetTransactionStats(ctx context.Context, tenantID string, filter domain.TransactionFilter) (*domain.TransactionStats, error) {
	var sb strings.Builder
	sb.WriteString(`FROM transactions WHERE tenant_id = $1 AND status <> $2`)
	args := []any{tenantID, domain.TxStatusVoid}

	if filter.OutletID != "" {
		args = append(args, filter.OutletID)
		fmt.Fprintf(&sb, ` AND outlet_id = $%d`, len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		fmt.Fprintf(&sb, ` AND created_at >= $%d`, len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		fmt.Fprintf(&sb, ` AND created_at <= $%d`, len(args))
	}

	stats := domain.TransactionStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(SUM(total),0), COALESCE(SUM(tax),0), COALESCE(SUM(discount),0) `+sb.String(),
		args...).Scan(&stats.TotalTransactions, &stats.TotalRevenue, &stats.TotalTax, &stats.TotalDiscount)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, count(*), COALESCE(SUM(total),0) `+sb.String()+`
		GROUP BY payment_method
		ORDER BY payment_method
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.PaymentMethodStat
		if err := rows.Scan(&m.Method, &m.Count, &m.Total); err != nil {
			return nil, err
		}
		stats.PaymentMethods = append(stats.PaymentMethods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, string, error) {
	if refund.Amount < 1 {
		return nil, "", store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = pgTx.Rollback() }()

	var outletID, status string
	var total int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT outlet_id, status, total FROM transactions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, refund.TenantID, refund.TransactionID).Scan(&outletID, &status, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", err
	}
	if status == domain.TxStatusVoid || status == domain.TxStatusRefunded {
		return nil, "", store.ErrInvalidRequest
	}

	var refundedSoFar int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM refunds WHERE transaction_id = $1
	`, refund.TransactionID).Scan(&refundedSoFar)
	if err != nil {
		return nil, "", err
	}
	if refundedSoFar+refund.Amount > total {
		return nil, "", store.ErrInvalidRequest
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}

	var timezone string
	if err := pgTx.QueryRowContext(ctx, `
		SELECT timezone FROM outlets WHERE id = $1
	`, outletID).Scan(&timezone); err != nil {
		return nil, "", err
	}
	loc := time.UTC
	if l, err := time.LoadLocation(timezone); err == nil {
		loc = l
	}
	day := domain.BusinessDay(refund.CreatedAt, loc)
	seq, err := nextSeq(ctx, pgTx, refund.TenantID, "refund", day)
	if err != nil {
		return nil, "", err
	}
	refund.Number = domain.FormatRefundNumber(day, seq)

	newStatus := domain.TxStatusPartialRefund
	if refundedSoFar+refund.Amount == total {
		newStatus = domain.TxStatusRefunded
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO refunds (id, tenant_id, transaction_id, number, amount, reason, status, approved_by, approved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, refund.ID, refund.TenantID, refund.TransactionID, refund.Number, refund.Amount, refund.Reason,
		refund.Status, nullIfEmpty(refund.ApprovedBy), nullTime(refund.ApprovedAt), refund.CreatedAt)
	if err != nil {
		return nil, "", err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $3 WHERE tenant_id = $1 AND id = $2
	`, refund.TenantID, refund.TransactionID, newStatus)
	if err != nil {
		return nil, "", err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, "", err
	}

	created := refund
	return &created, newStatus, nil
}

func (s *Store) VoidTransaction(ctx context.Context, tenantID, id, reason string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM transactions WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.TxStatusCompleted {
		return nil, store.ErrInvalidRequest
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products p
		SET current_stock = current_stock + i.quantity, updated_at = now()
		FROM transaction_items i
		WHERE i.transaction_id = $1 AND p.id = i.product_id AND p.track_stock = true
	`, id)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, void_reason = $4, voided_at = $5
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, domain.TxStatusVoid, reason, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.loadTransaction(ctx, s.db, tenantID, id)
}

// shifts

const shiftColumns = `id, tenant_id, outlet_id, user_id, number, status, opening_float, closing_cash,
	expected_cash, cash_difference, total_transactions, total_sales, COALESCE(notes,''), opened_at, closed_at`

func scanShift(row interface{ Scan(...any) error }) (*domain.Shift, error) {
	var sh domain.Shift
	var closedAt sql.NullTime
	err := row.Scan(&sh.ID, &sh.TenantID, &sh.OutletID, &sh.UserID, &sh.Number, &sh.Status, &sh.OpeningFloat,
		&sh.ClosingCash, &sh.ExpectedCash, &sh.CashDifference, &sh.TotalTransactions, &sh.TotalSales,
		&sh.Notes, &sh.OpenedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if closedAt.Valid {
		sh.ClosedAt = &closedAt.Time
	}
	return &sh, nil
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var outletCode, timezone string
	err = pgTx.QueryRowContext(ctx, `
		SELECT code, timezone FROM outlets WHERE tenant_id = $1 AND id = $2 AND is_active = true
	`, shift.TenantID, shift.OutletID).Scan(&outletCode, &timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	loc := time.UTC
	if l, err := time.LoadLocation(timezone); err == nil {
		loc = l
	}
	day := domain.BusinessDay(shift.OpenedAt, loc)
	seq, err := nextSeq(ctx, pgTx, shift.TenantID, "shift|"+shift.OutletID, day)
	if err != nil {
		return nil, err
	}
	shift.Number = domain.FormatShiftNumber(outletCode, day, seq)
	shift.Status = domain.ShiftStatusOpen

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO shifts (id, tenant_id, outlet_id, user_id, number, status, opening_float, closing_cash,
			expected_cash, cash_difference, total_transactions, total_sales, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,0,0,0,$8)
	`, shift.ID, shift.TenantID, shift.OutletID, shift.UserID, shift.Number, shift.Status,
		shift.OpeningFloat, shift.OpenedAt)
	if err != nil {
		// Partial unique index on open shifts per tenant/outlet/user.
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := shift
	return &created, nil
}

func (s *Store) GetActiveShift(ctx context.Context, tenantID, outletID, userID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE tenant_id = $1 AND outlet_id = $2 AND user_id = $3 AND status = $4
	`, tenantID, outletID, userID, domain.ShiftStatusOpen)
	return scanShift(row)
}

func (s *Store) CloseShift(ctx context.Context, tenantID, shiftID string, closingCash int64, notes string, at time.Time) (*domain.Shift, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var openingFloat int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, opening_float FROM shifts WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, shiftID).Scan(&status, &openingFloat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidRequest
	}

	var cashSales int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total),0) FROM transactions
		WHERE shift_id = $1 AND payment_method = 'CASH' AND status <> $2
	`, shiftID, domain.TxStatusVoid).Scan(&cashSales)
	if err != nil {
		return nil, err
	}

	expected := openingFloat + cashSales
	_, err = pgTx.ExecContext(ctx, `
		UPDATE shifts
		SET status = $3, closing_cash = $4, expected_cash = $5, cash_difference = $6, notes = $7, closed_at = $8
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, shiftID, domain.ShiftStatusClosed, closingCash, expected, closingCash-expected,
		nullIfEmpty(notes), at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE tenant_id = $1 AND id = $2
	`, tenantID, shiftID)
	return scanShift(row)
}

func (s *Store) ListShifts(ctx context.Context, tenantID, outletID string, limit int) ([]domain.Shift, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + shiftColumns + ` FROM shifts WHERE tenant_id = $1`)
	args := []any{tenantID}
	if outletID != "" {
		args = append(args, outletID)
		fmt.Fprintf(&sb, ` AND outlet_id = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY opened_at DESC`)
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, 16)
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

// auth

const userColumns = `id, tenant_id, COALESCE(outlet_id,''), username, email, COALESCE(phone,''),
	password_hash, first_name, last_name, role_id, is_active, last_login_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.TenantID, &u.OutletID, &u.Username, &u.Email, &u.Phone,
		&u.PasswordHash, &u.FirstName, &u.LastName, &u.RoleID, &u.IsActive, &lastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, outlet_id, username, email, phone, password_hash, first_name,
			last_name, role_id, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, user.ID, user.TenantID, nullIfEmpty(user.OutletID), user.Username, user.Email,
		nullIfEmpty(user.Phone), user.PasswordHash, user.FirstName, user.LastName, user.RoleID,
		user.IsActive, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := user
	return &created, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(username) = lower($1) OR lower(email) = lower($1)
	`, usernameOrEmail)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, userID)
	return scanUser(row)
}

func (s *Store) TouchUserLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $2 WHERE id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM users WHERE tenant_id = $1 AND is_active = true
	`, tenantID).Scan(&count)
	return count, err
}

func (s *Store) GetRole(ctx context.Context, tenantID, roleID string) (*domain.Role, error) {
	var r domain.Role
	var permissions string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, permissions
		FROM roles
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, roleID).Scan(&r.ID, &r.TenantID, &r.Name, &permissions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	r.Permissions = splitPermissions(permissions)
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, permissions
		FROM roles
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]domain.Role, 0, 8)
	for rows.Next() {
		var r domain.Role
		var permissions string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &permissions); err != nil {
			return nil, err
		}
		r.Permissions = splitPermissions(permissions)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, token.ID, token.UserID, token.Token, token.ExpiresAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token = $1
	`, token).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return &t, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL
	`, token, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// audit

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, user_id, action, resource, resource_id, old_values, new_values, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.UserID, entry.Action, entry.Resource, entry.ResourceID,
		nullJSON(entry.OldValues), nullJSON(entry.NewValues), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, filter domain.AuditLogFilter) ([]domain.AuditLog, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, tenant_id, user_id, action, resource, resource_id, old_values, new_values, created_at
		FROM audit_logs
		WHERE tenant_id = $1`)
	args := []any{tenantID}

	if filter.Resource != "" {
		args = append(args, filter.Resource)
		fmt.Fprintf(&sb, ` AND resource = $%d`, len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		fmt.Fprintf(&sb, ` AND user_id = $%d`, len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		fmt.Fprintf(&sb, ` AND action = $%d`, len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		fmt.Fprintf(&sb, ` AND created_at >= $%d`, len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		fmt.Fprintf(&sb, ` AND created_at <= $%d`, len(args))
	}
	sb.WriteString(` ORDER BY created_at DESC`)
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		var oldVals, newVals []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.UserID, &entry.Action, &entry.Resource,
			&entry.ResourceID, &oldVals, &newVals, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.OldValues = oldVals
		entry.NewValues = newVals
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// helpers

// Permissions are stored as a comma-separated list; database/sql has no
// native text[] scanning.
func splitPermissions(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullJSON(val []byte) any {
	if len(val) == 0 {
		return nil
	}
	return val
}
