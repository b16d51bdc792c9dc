package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

// Seed identifiers for dev/demo mode and tests.
const (
	SeedTenantID     = "tenant-demo"
	SeedOutletID     = "outlet-main"
	SeedOutletCode   = "MAIN"
	SeedAdminRoleID  = "role-admin"
	SeedCashierRole  = "role-cashier"
	SeedAdminUserID  = "user-admin"
	SeedCashierUser  = "user-cashier"
	SeedCategoryID   = "cat-beverage"
	SeedProductKopi  = "prod-kopi"
	SeedProductSusu  = "prod-susu"
	SeedProductRoti  = "prod-roti"
	SeedProductGula  = "prod-gula"
)

type Store struct {
	mu              sync.RWMutex
	tenants         map[string]domain.Tenant
	plans           map[string]domain.BillingPlan
	outlets         map[string]domain.Outlet
	categories      map[string]domain.Category
	products        map[string]domain.Product
	transactions    map[string]*domain.Transaction
	txByIdem        map[string]string
	txByNumber      map[string]string
	refunds         map[string]domain.Refund
	shifts          map[string]domain.Shift
	activeShift     map[string]string
	users           map[string]domain.User
	roles           map[string]domain.Role
	refreshTokens   map[string]domain.RefreshToken
	auditLogs       []domain.AuditLog
	seqCounters     map[string]int64
}

// seedUsers builds the initial dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded defaults are
// used with a warning when unset. Production runs use PostgreSQL.
func seedUsers(now time.Time) map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	users := map[string]domain.User{}
	for _, u := range []struct {
		id       string
		username string
		email    string
		password string
		roleID   string
		first    string
		last     string
	}{
		{SeedAdminUserID, "admin", "admin@demo.local", adminPwd, SeedAdminRoleID, "Demo", "Admin"},
		{SeedCashierUser, "cashier", "cashier@demo.local", cashierPwd, SeedCashierRole, "Demo", "Cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.id] = domain.User{
			ID:           u.id,
			TenantID:     SeedTenantID,
			OutletID:     SeedOutletID,
			Username:     u.username,
			Email:        u.email,
			PasswordHash: string(hash),
			FirstName:    u.first,
			LastName:     u.last,
			RoleID:       u.roleID,
			IsActive:     true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedPlans() map[string]domain.BillingPlan {
	return map[string]domain.BillingPlan{
		domain.PlanFree: {
			Code: domain.PlanFree, Name: "Free",
			MaxOutlets: 1, MaxProducts: 50, MaxUsers: 3, MaxTransactionsPerMonth: 500,
		},
		domain.PlanStarter: {
			Code: domain.PlanStarter, Name: "Starter",
			MaxOutlets: 3, MaxProducts: 1000, MaxUsers: 10, MaxTransactionsPerMonth: 10000,
		},
		domain.PlanPro: {
			Code: domain.PlanPro, Name: "Pro",
		},
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	tenant := domain.Tenant{ID: SeedTenantID, Name: "Demo Tenant", PlanCode: domain.PlanStarter, CreatedAt: now}

	outlet := domain.Outlet{
		ID:        SeedOutletID,
		TenantID:  SeedTenantID,
		Name:      "Main Outlet",
		Code:      SeedOutletCode,
		Type:      "retail",
		City:      "Jakarta",
		Timezone:  "Asia/Jakarta",
		Currency:  "IDR",
		TaxRate:   11,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	roles := map[string]domain.Role{
		SeedAdminRoleID: {
			ID: SeedAdminRoleID, TenantID: SeedTenantID, Name: "admin",
			Permissions: []string{domain.PermissionAll},
		},
		SeedCashierRole: {
			ID: SeedCashierRole, TenantID: SeedTenantID, Name: "cashier",
			Permissions: []string{domain.PermissionSaleCreate, domain.PermissionReportView},
		},
	}

	products := []domain.Product{
		{
			ID: SeedProductKopi, TenantID: SeedTenantID, OutletID: SeedOutletID, CategoryID: SeedCategoryID,
			Name: "Kopi Susu Gula Aren", SKU: "KOPI-01", Barcode: "8991002101234",
			SellingPrice: 10000, CostPrice: 6000, CurrentStock: 5, MinStock: 2, Unit: "cup",
			TaxRate: 11, IsTaxable: true, TrackStock: true, IsActive: true,
			Variants: []domain.ProductVariant{
				{ID: "var-kopi-large", Name: "Large", SKUSuffix: "L", PriceAdjustment: 2000, IsActive: true},
			},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: SeedProductSusu, TenantID: SeedTenantID, OutletID: SeedOutletID, CategoryID: SeedCategoryID,
			Name: "Susu UHT 1L", SKU: "SUSU-01", Barcode: "8991002105678",
			SellingPrice: 18900, CostPrice: 14000, CurrentStock: 60, MinStock: 10, Unit: "pcs",
			TaxRate: 11, IsTaxable: true, TrackStock: true, IsActive: true,
			PriceTiers: []domain.PriceTier{
				{MinQuantity: 6, UnitPrice: 17500},
				{MinQuantity: 12, UnitPrice: 16800},
			},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: SeedProductRoti, TenantID: SeedTenantID, OutletID: SeedOutletID,
			Name: "Roti Tawar", SKU: "ROTI-01",
			SellingPrice: 17800, CostPrice: 12000, CurrentStock: 25, MinStock: 5, Unit: "pcs",
			TaxRate: 0, IsTaxable: false, TrackStock: true, IsActive: true,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: SeedProductGula, TenantID: SeedTenantID, OutletID: SeedOutletID,
			Name: "Gula 1kg", SKU: "GULA-01",
			SellingPrice: 17400, CostPrice: 15000, CurrentStock: 0, MinStock: 3, Unit: "kg",
			TaxRate: 11, IsTaxable: true, TrackStock: false, IsActive: true,
			CreatedAt: now, UpdatedAt: now,
		},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		tenants:       map[string]domain.Tenant{tenant.ID: tenant},
		plans:         seedPlans(),
		outlets:       map[string]domain.Outlet{outlet.ID: outlet},
		categories:    map[string]domain.Category{SeedCategoryID: {ID: SeedCategoryID, TenantID: SeedTenantID, Name: "Beverage", CreatedAt: now}},
		products:      productMap,
		transactions:  make(map[string]*domain.Transaction),
		txByIdem:      make(map[string]string),
		txByNumber:    make(map[string]string),
		refunds:       make(map[string]domain.Refund),
		shifts:        make(map[string]domain.Shift),
		activeShift:   make(map[string]string),
		users:         seedUsers(now),
		roles:         roles,
		refreshTokens: make(map[string]domain.RefreshToken),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		seqCounters:   make(map[string]int64),
	}
}

// nextSeq increments the day-scoped counter. Caller holds the write lock.
func (s *Store) nextSeq(tenantID, scope string, day time.Time) int64 {
	key := tenantID + "|" + scope + "|" + day.Format("20060102")
	s.seqCounters[key]++
	return s.seqCounters[key]
}

func (s *Store) outletDay(outletID string, at time.Time) time.Time {
	loc := time.UTC
	if o, ok := s.outlets[outletID]; ok && o.Timezone != "" {
		if l, err := time.LoadLocation(o.Timezone); err == nil {
			loc = l
		}
	}
	return domain.BusinessDay(at, loc)
}

// tenants and billing

func (s *Store) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyTenant := t
	return &copyTenant, nil
}

func (s *Store) GetBillingPlan(_ context.Context, code string) (*domain.BillingPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyPlan := p
	return &copyPlan, nil
}

func (s *Store) GetBillingUsage(_ context.Context, tenantID string, monthStart time.Time) (*domain.BillingUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := domain.BillingUsage{}
	for _, o := range s.outlets {
		if o.TenantID == tenantID && o.IsActive {
			usage.Outlets++
		}
	}
	for _, p := range s.products {
		if p.TenantID == tenantID && p.IsActive {
			usage.Products++
		}
	}
	for _, u := range s.users {
		if u.TenantID == tenantID && u.IsActive {
			usage.Users++
		}
	}
	for _, tx := range s.transactions {
		if tx.TenantID == tenantID && !tx.CreatedAt.Before(monthStart) {
			usage.TransactionsMonth++
		}
	}
	return &usage, nil
}

// outlets

func (s *Store) CreateOutlet(_ context.Context, outlet domain.Outlet) (*domain.Outlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.outlets {
		if existing.TenantID == outlet.TenantID && strings.EqualFold(existing.Code, outlet.Code) {
			return nil, store.ErrConflict
		}
	}
	if outlet.ID == "" {
		outlet.ID = xid.New("outlet")
	}
	s.outlets[outlet.ID] = outlet
	created := outlet
	return &created, nil
}

func (s *Store) GetOutletByID(_ context.Context, tenantID, outletID string) (*domain.Outlet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outlets[outletID]
	if !ok || o.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyOutlet := o
	return &copyOutlet, nil
}

func (s *Store) ListOutlets(_ context.Context, tenantID string, includeInactive bool) ([]domain.Outlet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outlets := make([]domain.Outlet, 0, len(s.outlets))
	for _, o := range s.outlets {
		if o.TenantID != tenantID {
			continue
		}
		if !o.IsActive && !includeInactive {
			continue
		}
		outlets = append(outlets, o)
	}
	slices.SortFunc(outlets, func(a, b domain.Outlet) int {
		return strings.Compare(a.Name, b.Name)
	})
	return outlets, nil
}

func (s *Store) UpdateOutlet(_ context.Context, outlet domain.Outlet) (*domain.Outlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.outlets[outlet.ID]
	if !ok || existing.TenantID != outlet.TenantID {
		return nil, store.ErrNotFound
	}
	for id, other := range s.outlets {
		if id != outlet.ID && other.TenantID == outlet.TenantID && strings.EqualFold(other.Code, outlet.Code) {
			return nil, store.ErrConflict
		}
	}
	outlet.CreatedAt = existing.CreatedAt
	s.outlets[outlet.ID] = outlet
	updated := outlet
	return &updated, nil
}

func (s *Store) GetOutletUsage(_ context.Context, tenantID, outletID string) (*domain.OutletUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.outlets[outletID]; !ok || o.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	usage := domain.OutletUsage{}
	for _, u := range s.users {
		if u.OutletID == outletID && u.IsActive {
			usage.Users++
		}
	}
	for _, p := range s.products {
		if p.OutletID == outletID && p.IsActive {
			usage.Products++
		}
	}
	for _, tx := range s.transactions {
		if tx.OutletID == outletID {
			usage.Transactions++
		}
	}
	return &usage, nil
}

func (s *Store) DeactivateOutlet(_ context.Context, tenantID, outletID string) (*domain.Outlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.outlets[outletID]
	if !ok || o.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	o.IsActive = false
	o.UpdatedAt = time.Now().UTC()
	s.outlets[outletID] = o
	copyOutlet := o
	return &copyOutlet, nil
}

// categories

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.TenantID == category.TenantID && strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context, tenantID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if c.TenantID == tenantID {
			categories = append(categories, c)
		}
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) DeleteCategory(_ context.Context, tenantID, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[categoryID]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	for _, p := range s.products {
		if p.CategoryID == categoryID && p.IsActive {
			return store.ErrConflict
		}
	}
	delete(s.categories, categoryID)
	return nil
}

// products

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkProductUniqueness(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	for i := range product.Variants {
		if product.Variants[i].ID == "" {
			product.Variants[i].ID = xid.New("var")
		}
		product.Variants[i].ProductID = product.ID
	}
	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) checkProductUniqueness(product domain.Product) error {
	for id, other := range s.products {
		if id == product.ID || other.TenantID != product.TenantID {
			continue
		}
		if strings.EqualFold(other.SKU, product.SKU) {
			return store.ErrConflict
		}
		if product.Barcode != "" && other.Barcode == product.Barcode {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) GetProductByID(_ context.Context, tenantID, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(p)
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		if !p.IsActive && !filter.IncludeInactive {
			continue
		}
		if filter.OutletID != "" && p.OutletID != filter.OutletID {
			continue
		}
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.SKU), search) &&
			!strings.Contains(p.Barcode, search) {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.TenantID != product.TenantID {
		return nil, store.ErrNotFound
	}
	if err := s.checkProductUniqueness(product); err != nil {
		return nil, err
	}
	for i := range product.Variants {
		if product.Variants[i].ID == "" {
			product.Variants[i].ID = xid.New("var")
		}
		product.Variants[i].ProductID = product.ID
	}
	product.CreatedAt = existing.CreatedAt
	product.CurrentStock = existing.CurrentStock
	s.products[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) DeactivateProduct(_ context.Context, tenantID, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	p.IsActive = false
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	copyProduct := cloneProduct(p)
	return &copyProduct, nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	next := p.CurrentStock + delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	p.CurrentStock = next
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	copyProduct := cloneProduct(p)
	return &copyProduct, nil
}

func (s *Store) CountProducts(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.products {
		if p.TenantID == tenantID && p.IsActive {
			count++
		}
	}
	return count, nil
}

// transactions

func (s *Store) FindTransactionByIdempotency(_ context.Context, tenantID, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByIdem[tenantID+"|"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.cloneTransactionWithRefunds(s.transactions[id]), nil
}

func (s *Store) GetTransactionByID(_ context.Context, tenantID, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return s.cloneTransactionWithRefunds(tx), nil
}

func (s *Store) GetTransactionByNumber(_ context.Context, tenantID, number string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByNumber[tenantID+"|"+number]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.cloneTransactionWithRefunds(s.transactions[id]), nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactions {
		if tx.TenantID != tenantID || !matchTransaction(tx, filter) {
			continue
		}
		result = append(result, *s.cloneTransactionWithRefunds(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchTransaction(tx *domain.Transaction, filter domain.TransactionFilter) bool {
	if filter.OutletID != "" && tx.OutletID != filter.OutletID {
		return false
	}
	if filter.ShiftID != "" && tx.ShiftID != filter.ShiftID {
		return false
	}
	if filter.Status != "" && tx.Status != filter.Status {
		return false
	}
	if filter.StartDate != nil && tx.CreatedAt.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && tx.CreatedAt.After(*filter.EndDate) {
		return false
	}
	return true
}

func (s *Store) PostTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if tx.IdempotencyKey != "" {
		if id, ok := s.txByIdem[tx.TenantID+"|"+tx.IdempotencyKey]; ok {
			return s.cloneTransactionWithRefunds(s.transactions[id]), nil
		}
	}

	outlet, ok := s.outlets[tx.OutletID]
	if !ok || outlet.TenantID != tx.TenantID || !outlet.IsActive {
		return nil, store.ErrNotFound
	}

	var shift *domain.Shift
	if tx.ShiftID != "" {
		existing, exists := s.shifts[tx.ShiftID]
		if !exists || existing.TenantID != tx.TenantID || existing.Status != domain.ShiftStatusOpen {
			return nil, fmt.Errorf("shift %s not open: %w", tx.ShiftID, store.ErrInvalidRequest)
		}
		if existing.OutletID != tx.OutletID {
			return nil, fmt.Errorf("shift %s belongs to another outlet: %w", tx.ShiftID, store.ErrInvalidRequest)
		}
		shift = &existing
	}

	// All-or-nothing stock check before any decrement.
	needed := map[string]int{}
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		needed[item.ProductID] += item.Quantity
	}
	for productID, qty := range needed {
		p, exists := s.products[productID]
		if !exists || p.TenantID != tx.TenantID || p.OutletID != tx.OutletID || !p.IsActive {
			return nil, fmt.Errorf("product %s unavailable: %w", productID, store.ErrNotFound)
		}
		if p.TrackStock && p.CurrentStock < qty {
			return nil, store.ErrInsufficientStock
		}
	}
	for productID, qty := range needed {
		p := s.products[productID]
		if p.TrackStock {
			p.CurrentStock -= qty
			p.UpdatedAt = tx.CreatedAt
			s.products[productID] = p
		}
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	day := s.outletDay(tx.OutletID, tx.CreatedAt)
	seq := s.nextSeq(tx.TenantID, "tx|"+tx.OutletID, day)
	tx.Number = domain.FormatTransactionNumber(outlet.Code, day, seq)
	tx.Status = domain.TxStatusCompleted

	if shift != nil {
		shift.TotalTransactions++
		shift.TotalSales += tx.Total
		s.shifts[tx.ShiftID] = *shift
	}

	stored := tx
	s.transactions[tx.ID] = &stored
	if tx.IdempotencyKey != "" {
		s.txByIdem[tx.TenantID+"|"+tx.IdempotencyKey] = tx.ID
	}
	s.txByNumber[tx.TenantID+"|"+tx.Number] = tx.ID

	return s.cloneTransactionWithRefunds(&stored), nil
}

func (s *Store) GetTransactionStats(_ context.Context, tenantID string, filter domain.TransactionFilter) (*domain.TransactionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.TransactionStats{}
	byMethod := map[string]*domain.PaymentMethodStat{}
	for _, tx := range s.transactions {
		if tx.TenantID != tenantID || tx.Status == domain.TxStatusVoid || !matchTransaction(tx, filter) {
			continue
		}
		stats.TotalTransactions++
		stats.TotalRevenue += tx.Total
		stats.TotalTax += tx.Tax
		stats.TotalDiscount += tx.Discount
		m, ok := byMethod[tx.PaymentMethod]
		if !ok {
			m = &domain.PaymentMethodStat{Method: tx.PaymentMethod}
			byMethod[tx.PaymentMethod] = m
		}
		m.Count++
		m.Total += tx.Total
	}
	for _, m := range byMethod {
		stats.PaymentMethods = append(stats.PaymentMethods, *m)
	}
	slices.SortFunc(stats.PaymentMethods, func(a, b domain.PaymentMethodStat) int {
		return strings.Compare(a.Method, b.Method)
	})
	return &stats, nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[refund.TransactionID]
	if !ok || tx.TenantID != refund.TenantID {
		return nil, "", store.ErrNotFound
	}
	if tx.Status == domain.TxStatusVoid || tx.Status == domain.TxStatusRefunded {
		return nil, "", store.ErrInvalidRequest
	}
	if refund.Amount < 1 {
		return nil, "", store.ErrInvalidRequest
	}

	refundedSoFar := int64(0)
	for _, existing := range s.refunds {
		if existing.TransactionID == refund.TransactionID {
			refundedSoFar += existing.Amount
		}
	}
	if refundedSoFar+refund.Amount > tx.Total {
		return nil, "", store.ErrInvalidRequest
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	day := s.outletDay(tx.OutletID, refund.CreatedAt)
	seq := s.nextSeq(refund.TenantID, "refund", day)
	refund.Number = domain.FormatRefundNumber(day, seq)

	if refundedSoFar+refund.Amount == tx.Total {
		tx.Status = domain.TxStatusRefunded
	} else {
		tx.Status = domain.TxStatusPartialRefund
	}

	s.refunds[refund.ID] = refund
	created := refund
	return &created, tx.Status, nil
}

func (s *Store) VoidTransaction(_ context.Context, tenantID, id, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, store.ErrInvalidRequest
	}

	for _, item := range tx.Items {
		p, exists := s.products[item.ProductID]
		if exists && p.TrackStock {
			p.CurrentStock += item.Quantity
			p.UpdatedAt = at
			s.products[item.ProductID] = p
		}
	}

	tx.Status = domain.TxStatusVoid
	tx.VoidReason = reason
	tx.VoidedAt = &at

	return s.cloneTransactionWithRefunds(tx), nil
}

// shifts

func shiftKey(tenantID, outletID, userID string) string {
	return tenantID + "|" + outletID + "|" + userID
}

func (s *Store) OpenShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outlet, ok := s.outlets[shift.OutletID]
	if !ok || outlet.TenantID != shift.TenantID {
		return nil, store.ErrNotFound
	}
	key := shiftKey(shift.TenantID, shift.OutletID, shift.UserID)
	if _, exists := s.activeShift[key]; exists {
		return nil, store.ErrConflict
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	day := s.outletDay(shift.OutletID, shift.OpenedAt)
	seq := s.nextSeq(shift.TenantID, "shift|"+shift.OutletID, day)
	shift.Number = domain.FormatShiftNumber(outlet.Code, day, seq)
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCash = 0

	s.shifts[shift.ID] = shift
	s.activeShift[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, tenantID, outletID, userID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShift[shiftKey(tenantID, outletID, userID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shifts[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseShift(_ context.Context, tenantID, shiftID string, closingCash int64, notes string, at time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shifts[shiftID]
	if !exists || shift.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidRequest
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var cashSales int64
	for _, tx := range s.transactions {
		if tx.ShiftID == shiftID && tx.PaymentMethod == "CASH" && tx.Status != domain.TxStatusVoid {
			cashSales += tx.Total
		}
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCash = closingCash
	shift.ExpectedCash = shift.OpeningFloat + cashSales
	shift.CashDifference = closingCash - shift.ExpectedCash
	shift.Notes = notes
	shift.ClosedAt = &at

	delete(s.activeShift, shiftKey(tenantID, shift.OutletID, shift.UserID))
	s.shifts[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) ListShifts(_ context.Context, tenantID, outletID string, limit int) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shifts := make([]domain.Shift, 0, 16)
	for _, shift := range s.shifts {
		if shift.TenantID != tenantID {
			continue
		}
		if outletID != "" && shift.OutletID != outletID {
			continue
		}
		shifts = append(shifts, shift)
	}
	slices.SortFunc(shifts, func(a, b domain.Shift) int {
		return b.OpenedAt.Compare(a.OpenedAt)
	})
	if limit > 0 && len(shifts) > limit {
		shifts = shifts[:limit]
	}
	return shifts, nil
}

// auth

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return nil, store.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) GetUserByLogin(_ context.Context, usernameOrEmail string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, usernameOrEmail) || strings.EqualFold(u.Email, usernameOrEmail) {
			copyUser := u
			return &copyUser, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyUser := u
	return &copyUser, nil
}

func (s *Store) TouchUserLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) CountUsers(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		if u.TenantID == tenantID && u.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetRole(_ context.Context, tenantID, roleID string) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[roleID]
	if !ok || r.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyRole := r
	copyRole.Permissions = slices.Clone(r.Permissions)
	return &copyRole, nil
}

func (s *Store) ListRoles(_ context.Context, tenantID string) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]domain.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if r.TenantID != tenantID {
			continue
		}
		copyRole := r
		copyRole.Permissions = slices.Clone(r.Permissions)
		roles = append(roles, copyRole)
	}
	slices.SortFunc(roles, func(a, b domain.Role) int {
		return strings.Compare(a.Name, b.Name)
	})
	return roles, nil
}

func (s *Store) CreateRefreshToken(_ context.Context, token domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		return store.ErrConflict
	}
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyToken := t
	return &copyToken, nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return store.ErrNotFound
	}
	t.RevokedAt = &at
	s.refreshTokens[token] = t
	return nil
}

// audit

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, filter domain.AuditLogFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for _, entry := range s.auditLogs {
		if entry.TenantID != tenantID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.StartDate != nil && entry.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && entry.CreatedAt.After(*filter.EndDate) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// clone helpers keep callers from mutating shared state.

func cloneProduct(p domain.Product) domain.Product {
	copyProduct := p
	copyProduct.Variants = slices.Clone(p.Variants)
	copyProduct.PriceTiers = slices.Clone(p.PriceTiers)
	return copyProduct
}

// cloneTransactionWithRefunds attaches refunds sorted oldest-first.
// Caller holds at least the read lock.
func (s *Store) cloneTransactionWithRefunds(tx *domain.Transaction) *domain.Transaction {
	copyTx := *tx
	copyTx.Items = slices.Clone(tx.Items)
	copyTx.Refunds = nil
	for _, r := range s.refunds {
		if r.TransactionID == tx.ID {
			copyTx.Refunds = append(copyTx.Refunds, r)
		}
	}
	slices.SortFunc(copyTx.Refunds, func(a, b domain.Refund) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return &copyTx
}
