package store

import (
	"context"
	"errors"
	"time"

	"tokopos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrLimitExceeded     = errors.New("plan limit exceeded")
)

type Repository interface {
	// tenants and billing
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	GetBillingPlan(ctx context.Context, code string) (*domain.BillingPlan, error)
	GetBillingUsage(ctx context.Context, tenantID string, monthStart time.Time) (*domain.BillingUsage, error)

	// outlets
	CreateOutlet(ctx context.Context, outlet domain.Outlet) (*domain.Outlet, error)
	GetOutletByID(ctx context.Context, tenantID, outletID string) (*domain.Outlet, error)
	ListOutlets(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Outlet, error)
	UpdateOutlet(ctx context.Context, outlet domain.Outlet) (*domain.Outlet, error)
	GetOutletUsage(ctx context.Context, tenantID, outletID string) (*domain.OutletUsage, error)
	DeactivateOutlet(ctx context.Context, tenantID, outletID string) (*domain.Outlet, error)

	// categories
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error)
	DeleteCategory(ctx context.Context, tenantID, categoryID string) error

	// products
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, tenantID, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeactivateProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error)
	AdjustStock(ctx context.Context, tenantID, productID string, delta int) (*domain.Product, error)
	CountProducts(ctx context.Context, tenantID string) (int, error)

	// transactions
	FindTransactionByIdempotency(ctx context.Context, tenantID, key string) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, tenantID, id string) (*domain.Transaction, error)
	GetTransactionByNumber(ctx context.Context, tenantID, number string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
	// PostTransaction atomically assigns the receipt number, decrements
	// stock, updates shift running totals, and persists the transaction
	// with its item snapshots. Stock that would go negative fails the
	// whole posting with ErrInsufficientStock.
	PostTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionStats(ctx context.Context, tenantID string, filter domain.TransactionFilter) (*domain.TransactionStats, error)
	// CreateRefund validates refundable balance, assigns the refund
	// number, and moves the parent transaction's status, all in one
	// storage transaction.
	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, string, error)
	VoidTransaction(ctx context.Context, tenantID, id, reason string, at time.Time) (*domain.Transaction, error)

	// shifts
	OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, tenantID, outletID, userID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, tenantID, shiftID string, closingCash int64, notes string, at time.Time) (*domain.Shift, error)
	ListShifts(ctx context.Context, tenantID, outletID string, limit int) ([]domain.Shift, error)

	// auth
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*domain.User, error)
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	TouchUserLogin(ctx context.Context, userID string, at time.Time) error
	CountUsers(ctx context.Context, tenantID string) (int, error)
	GetRole(ctx context.Context, tenantID, roleID string) (*domain.Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]domain.Role, error)
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string, at time.Time) error

	// audit
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, filter domain.AuditLogFilter) ([]domain.AuditLog, error)
}
