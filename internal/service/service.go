package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/metrics"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

// ErrPermissionDenied marks requests from an authenticated caller whose
// role lacks the required permission.
var ErrPermissionDenied = errors.New("permission denied")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	stats      cache.StatsCache
	met        *metrics.Metrics
	log        zerolog.Logger
	statsTTL   time.Duration
	refreshTTL time.Duration
}

type Options struct {
	StatsCache      cache.StatsCache
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
	StatsTTL        time.Duration
	RefreshTokenTTL time.Duration
}

func New(repo store.Repository, opts Options) *Service {
	if opts.StatsCache == nil {
		opts.StatsCache = cache.NoopStatsCache{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 30 * time.Second
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	return &Service{
		repo:       repo,
		stats:      opts.StatsCache,
		met:        opts.Metrics,
		log:        opts.Logger,
		statsTTL:   opts.StatsTTL,
		refreshTTL: opts.RefreshTokenTTL,
	}
}

func (s *Service) requireActor(ctx context.Context, permission string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrPermissionDenied
	}
	if !actor.Can(permission) {
		return domain.Actor{}, fmt.Errorf("%s: %w", permission, ErrPermissionDenied)
	}
	return actor, nil
}

// logAudit records the change trail. Failures are logged, never fatal:
// the business operation already committed.
func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action, resource, resourceID string, oldVals, newVals any) {
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if oldVals != nil {
		if payload, err := json.Marshal(oldVals); err == nil {
			entry.OldValues = payload
		}
	}
	if newVals != nil {
		if payload, err := json.Marshal(newVals); err == nil {
			entry.NewValues = payload
		}
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("action", action).Str("resource", resource).Msg("audit log write failed")
	}
}

// checkPlanLimit returns ErrLimitExceeded when the tenant's plan caps
// the resource and the current count has reached it. Zero limits mean
// unlimited.
func (s *Service) checkPlanLimit(ctx context.Context, tenantID string, limitOf func(domain.BillingPlan) int64, current int64) error {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	plan, err := s.repo.GetBillingPlan(ctx, tenant.PlanCode)
	if err != nil {
		return err
	}
	limit := limitOf(*plan)
	if limit > 0 && current >= limit {
		return fmt.Errorf("plan %s: %w", plan.Code, store.ErrLimitExceeded)
	}
	return nil
}

// outlets

func (s *Service) CreateOutlet(ctx context.Context, req domain.OutletCreateRequest) (*domain.Outlet, error) {
	actor, err := s.requireActor(ctx, domain.PermissionOutletWrite)
	if err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Name == "" || req.Code == "" {
		return nil, store.ErrInvalidRequest
	}
	if req.Timezone == "" {
		req.Timezone = "Asia/Jakarta"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, fmt.Errorf("timezone %q: %w", req.Timezone, store.ErrInvalidRequest)
	}
	if req.Currency == "" {
		req.Currency = "IDR"
	}
	taxRate := 11.0
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 100 {
			return nil, store.ErrInvalidRequest
		}
		taxRate = *req.TaxRate
	}

	existing, err := s.repo.ListOutlets(ctx, actor.TenantID, true)
	if err != nil {
		return nil, err
	}
	if err := s.checkPlanLimit(ctx, actor.TenantID, func(p domain.BillingPlan) int64 { return int64(p.MaxOutlets) }, int64(len(existing))); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outlet := domain.Outlet{
		ID:        xid.New("outlet"),
		TenantID:  actor.TenantID,
		Name:      req.Name,
		Code:      req.Code,
		Type:      strings.TrimSpace(req.Type),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		City:      strings.TrimSpace(req.City),
		Timezone:  req.Timezone,
		Currency:  req.Currency,
		TaxRate:   taxRate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateOutlet(ctx, outlet)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionCreate, "outlet", created.ID, nil, created)
	return created, nil
}

func (s *Service) GetOutlet(ctx context.Context, outletID string) (*domain.Outlet, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetOutletByID(ctx, actor.TenantID, outletID)
}

func (s *Service) ListOutlets(ctx context.Context, includeInactive bool) ([]domain.Outlet, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.ListOutlets(ctx, actor.TenantID, includeInactive)
}

func (s *Service) UpdateOutlet(ctx context.Context, outletID string, req domain.OutletUpdateRequest) (*domain.Outlet, error) {
	actor, err := s.requireActor(ctx, domain.PermissionOutletWrite)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetOutletByID(ctx, actor.TenantID, outletID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.Code))
		if code == "" {
			return nil, store.ErrInvalidRequest
		}
		updated.Code = code
	}
	if req.Type != nil {
		updated.Type = strings.TrimSpace(*req.Type)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.City != nil {
		updated.City = strings.TrimSpace(*req.City)
	}
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 100 {
			return nil, store.ErrInvalidRequest
		}
		updated.TaxRate = *req.TaxRate
	}

	saved, err := s.repo.UpdateOutlet(ctx, updated)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionUpdate, "outlet", saved.ID, existing, saved)
	return saved, nil
}

// DeleteOutlet deactivates the outlet. It refuses while users, products,
// or transactions still reference it.
func (s *Service) DeleteOutlet(ctx context.Context, outletID string) error {
	actor, err := s.requireActor(ctx, domain.PermissionOutletWrite)
	if err != nil {
		return err
	}

	usage, err := s.repo.GetOutletUsage(ctx, actor.TenantID, outletID)
	if err != nil {
		return err
	}
	if usage.Users > 0 || usage.Products > 0 || usage.Transactions > 0 {
		return fmt.Errorf("outlet in use (users=%d products=%d transactions=%d): %w",
			usage.Users, usage.Products, usage.Transactions, store.ErrConflict)
	}

	deactivated, err := s.repo.DeactivateOutlet(ctx, actor.TenantID, outletID)
	if err != nil {
		return err
	}
	s.logAudit(ctx, actor, domain.AuditActionDelete, "outlet", outletID, deactivated, nil)
	return nil
}

func (s *Service) GetOutletUsage(ctx context.Context, outletID string) (*domain.OutletUsage, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetOutletUsage(ctx, actor.TenantID, outletID)
}

// categories

func (s *Service) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidRequest
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:        xid.New("cat"),
		TenantID:  actor.TenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionCreate, "category", created.ID, nil, created)
	return created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.ListCategories(ctx, actor.TenantID)
}

func (s *Service) DeleteCategory(ctx context.Context, categoryID string) error {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, actor.TenantID, categoryID); err != nil {
		return err
	}
	s.logAudit(ctx, actor, domain.AuditActionDelete, "category", categoryID, nil, nil)
	return nil
}

// products

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.SKU == "" || req.OutletID == "" {
		return nil, store.ErrInvalidRequest
	}
	if req.SellingPrice < 1 || req.CostPrice < 0 || req.CurrentStock < 0 || req.MinStock < 0 {
		return nil, store.ErrInvalidRequest
	}

	outlet, err := s.repo.GetOutletByID(ctx, actor.TenantID, req.OutletID)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountProducts(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPlanLimit(ctx, actor.TenantID, func(p domain.BillingPlan) int64 { return int64(p.MaxProducts) }, int64(count)); err != nil {
		return nil, err
	}

	// Tax defaults come from the outlet unless the request pins them.
	taxRate := outlet.TaxRate
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 100 {
			return nil, store.ErrInvalidRequest
		}
		taxRate = *req.TaxRate
	}
	isTaxable := taxRate > 0
	if req.IsTaxable != nil {
		isTaxable = *req.IsTaxable
	}
	trackStock := true
	if req.TrackStock != nil {
		trackStock = *req.TrackStock
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = "pcs"
	}
	if err := validateVariantsAndTiers(req.Variants, req.PriceTiers); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:           xid.New("prod"),
		TenantID:     actor.TenantID,
		OutletID:     req.OutletID,
		CategoryID:   req.CategoryID,
		Name:         req.Name,
		Description:  strings.TrimSpace(req.Description),
		SKU:          req.SKU,
		Barcode:      req.Barcode,
		SellingPrice: req.SellingPrice,
		CostPrice:    req.CostPrice,
		CurrentStock: req.CurrentStock,
		MinStock:     req.MinStock,
		Unit:         unit,
		TaxRate:      taxRate,
		IsTaxable:    isTaxable,
		TrackStock:   trackStock,
		IsActive:     true,
		Variants:     req.Variants,
		PriceTiers:   req.PriceTiers,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionCreate, "product", created.ID, nil, created)
	return created, nil
}

func validateVariantsAndTiers(variants []domain.ProductVariant, tiers []domain.PriceTier) error {
	for _, v := range variants {
		if strings.TrimSpace(v.Name) == "" {
			return store.ErrInvalidRequest
		}
	}
	seen := map[int]bool{}
	for _, tier := range tiers {
		if tier.MinQuantity < 1 || tier.UnitPrice < 1 || seen[tier.MinQuantity] {
			return store.ErrInvalidRequest
		}
		seen[tier.MinQuantity] = true
	}
	return nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetProductByID(ctx, actor.TenantID, productID)
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) (*domain.ProductListResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	products, err := s.repo.ListProducts(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, err
	}
	lowStock := 0
	for _, p := range products {
		if p.IsLowStock() {
			lowStock++
		}
	}
	return &domain.ProductListResponse{
		Count:         len(products),
		LowStockCount: lowStock,
		Products:      products,
	}, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetProductByID(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.SKU != nil {
		sku := strings.ToUpper(strings.TrimSpace(*req.SKU))
		if sku == "" {
			return nil, store.ErrInvalidRequest
		}
		updated.SKU = sku
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.SellingPrice != nil {
		if *req.SellingPrice < 1 {
			return nil, store.ErrInvalidRequest
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return nil, store.ErrInvalidRequest
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return nil, store.ErrInvalidRequest
		}
		updated.MinStock = *req.MinStock
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 100 {
			return nil, store.ErrInvalidRequest
		}
		updated.TaxRate = *req.TaxRate
	}
	if req.IsTaxable != nil {
		updated.IsTaxable = *req.IsTaxable
	}
	if req.TrackStock != nil {
		updated.TrackStock = *req.TrackStock
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	if req.Variants != nil {
		updated.Variants = *req.Variants
	}
	if req.PriceTiers != nil {
		updated.PriceTiers = *req.PriceTiers
	}
	if err := validateVariantsAndTiers(updated.Variants, updated.PriceTiers); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionUpdate, "product", saved.ID, existing, saved)
	return saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return err
	}
	deactivated, err := s.repo.DeactivateProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return err
	}
	s.logAudit(ctx, actor, domain.AuditActionDelete, "product", productID, deactivated, nil)
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (*domain.StockAdjustResponse, error) {
	actor, err := s.requireActor(ctx, domain.PermissionProductWrite)
	if err != nil {
		return nil, err
	}
	if req.Quantity == 0 || strings.TrimSpace(req.Reason) == "" {
		return nil, store.ErrInvalidRequest
	}

	before, err := s.repo.GetProductByID(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, err
	}
	if !before.TrackStock {
		return nil, fmt.Errorf("stock not tracked for %s: %w", productID, store.ErrInvalidRequest)
	}

	after, err := s.repo.AdjustStock(ctx, actor.TenantID, productID, req.Quantity)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionAdjust, "product", productID,
		map[string]any{"stock": before.CurrentStock},
		map[string]any{"stock": after.CurrentStock, "reason": req.Reason})

	return &domain.StockAdjustResponse{
		Product:       *after,
		PreviousStock: before.CurrentStock,
		NewStock:      after.CurrentStock,
		Adjustment:    req.Quantity,
		Reason:        strings.TrimSpace(req.Reason),
	}, nil
}

// shifts

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error) {
	actor, err := s.requireActor(ctx, domain.PermissionSaleCreate)
	if err != nil {
		return nil, err
	}
	if req.OutletID == "" || req.OpeningFloat < 0 {
		return nil, store.ErrInvalidRequest
	}

	shift := domain.Shift{
		ID:           xid.New("shift"),
		TenantID:     actor.TenantID,
		OutletID:     req.OutletID,
		UserID:       actor.UserID,
		OpeningFloat: req.OpeningFloat,
		OpenedAt:     time.Now().UTC(),
	}
	created, err := s.repo.OpenShift(ctx, shift)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionCreate, "shift", created.ID, nil, created)
	return created, nil
}

func (s *Service) GetActiveShift(ctx context.Context, outletID string) (*domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetActiveShift(ctx, actor.TenantID, outletID, actor.UserID)
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error) {
	actor, err := s.requireActor(ctx, domain.PermissionSaleCreate)
	if err != nil {
		return nil, err
	}
	if req.ShiftID == "" || req.ClosingCash < 0 {
		return nil, store.ErrInvalidRequest
	}

	closed, err := s.repo.CloseShift(ctx, actor.TenantID, req.ShiftID, req.ClosingCash, strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionUpdate, "shift", closed.ID, nil, closed)
	return closed, nil
}

func (s *Service) ListShifts(ctx context.Context, outletID string, limit int) ([]domain.Shift, error) {
	actor, err := s.requireActor(ctx, domain.PermissionReportView)
	if err != nil {
		return nil, err
	}
	return s.repo.ListShifts(ctx, actor.TenantID, outletID, limit)
}

// auth

// Authenticate verifies credentials and resolves the user's role. It
// returns ErrNotFound for unknown or inactive users and bad passwords
// alike; callers present all three the same way.
func (s *Service) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.User, *domain.Role, error) {
	login := strings.TrimSpace(req.UsernameOrEmail)
	if login == "" || req.Password == "" {
		return nil, nil, store.ErrInvalidRequest
	}

	user, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, store.ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, nil, store.ErrNotFound
	}

	role, err := s.repo.GetRole(ctx, user.TenantID, user.RoleID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.TouchUserLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login time")
	}
	return user, role, nil
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	actor, err := s.requireActor(ctx, domain.PermissionUserManage)
	if err != nil {
		return nil, err
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		return nil, store.ErrInvalidRequest
	}

	count, err := s.repo.CountUsers(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPlanLimit(ctx, actor.TenantID, func(p domain.BillingPlan) int64 { return int64(p.MaxUsers) }, int64(count)); err != nil {
		return nil, err
	}

	roleID := req.RoleID
	if roleID == "" {
		roles, err := s.repo.ListRoles(ctx, actor.TenantID)
		if err != nil {
			return nil, err
		}
		for _, r := range roles {
			if r.Name == "cashier" {
				roleID = r.ID
				break
			}
		}
		if roleID == "" {
			return nil, store.ErrInvalidRequest
		}
	} else if _, err := s.repo.GetRole(ctx, actor.TenantID, roleID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		ID:           xid.New("user"),
		TenantID:     actor.TenantID,
		OutletID:     req.OutletID,
		Username:     req.Username,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		RoleID:       roleID,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, domain.AuditActionCreate, "user", created.ID, nil, domain.AuthUser{
		ID: created.ID, TenantID: created.TenantID, Username: created.Username, Email: created.Email,
	})
	return created, nil
}

// IssueRefreshToken mints and persists an opaque refresh token.
func (s *Service) IssueRefreshToken(ctx context.Context, userID string) (*domain.RefreshToken, error) {
	token := domain.RefreshToken{
		ID:        xid.New("rt"),
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	}
	if err := s.repo.CreateRefreshToken(ctx, token); err != nil {
		return nil, err
	}
	return &token, nil
}

// RedeemRefreshToken validates and rotates the token, returning the user
// and role for a fresh access token. The old token is revoked; reuse of
// a revoked token fails.
func (s *Service) RedeemRefreshToken(ctx context.Context, token string) (*domain.User, *domain.Role, *domain.RefreshToken, error) {
	if token == "" {
		return nil, nil, nil, store.ErrInvalidRequest
	}
	existing, err := s.repo.GetRefreshToken(ctx, token)
	if err != nil {
		return nil, nil, nil, err
	}
	now := time.Now().UTC()
	if existing.RevokedAt != nil || now.After(existing.ExpiresAt) {
		return nil, nil, nil, store.ErrNotFound
	}

	user, err := s.repo.GetUserByID(ctx, existing.UserID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, nil, store.ErrNotFound
	}
	role, err := s.repo.GetRole(ctx, user.TenantID, user.RoleID)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := s.repo.RevokeRefreshToken(ctx, token, now); err != nil {
		return nil, nil, nil, err
	}
	next, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return user, role, next, nil
}

func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return store.ErrInvalidRequest
	}
	err := s.repo.RevokeRefreshToken(ctx, token, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		// Logout is idempotent.
		return nil
	}
	return err
}

// billing

func (s *Service) GetBillingPlan(ctx context.Context) (*domain.BillingPlan, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	tenant, err := s.repo.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBillingPlan(ctx, tenant.PlanCode)
}

func (s *Service) GetBillingUsage(ctx context.Context) (*domain.BillingUsage, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.GetBillingUsage(ctx, actor.TenantID, monthStart)
}

// audit

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditLogFilter) ([]domain.AuditLog, error) {
	actor, err := s.requireActor(ctx, domain.PermissionAuditView)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, filter)
}
