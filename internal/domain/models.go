package domain

import (
	"encoding/json"
	"time"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PlanCode  string    `json:"plan_code"`
	CreatedAt time.Time `json:"created_at"`
}

// BillingPlan caps what a tenant may create. Plans are seeded, not managed
// over the API. A zero limit means unlimited.
type BillingPlan struct {
	Code                    string `json:"code"`
	Name                    string `json:"name"`
	MaxOutlets              int    `json:"max_outlets"`
	MaxProducts             int    `json:"max_products"`
	MaxUsers                int    `json:"max_users"`
	MaxTransactionsPerMonth int64  `json:"max_transactions_per_month"`
}

type BillingUsage struct {
	Outlets           int   `json:"outlets"`
	Products          int   `json:"products"`
	Users             int   `json:"users"`
	TransactionsMonth int64 `json:"transactions_this_month"`
}

type Outlet struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Type      string    `json:"type,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	Timezone  string    `json:"timezone"`
	Currency  string    `json:"currency"`
	TaxRate   float64   `json:"tax_rate"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutletUsage counts what still references an outlet; deletion is blocked
// while any count is non-zero.
type OutletUsage struct {
	Users        int `json:"users"`
	Products     int `json:"products"`
	Transactions int `json:"transactions"`
}

type OutletCreateRequest struct {
	Name     string   `json:"name"`
	Code     string   `json:"code"`
	Type     string   `json:"type,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Email    string   `json:"email,omitempty"`
	Address  string   `json:"address,omitempty"`
	City     string   `json:"city,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Currency string   `json:"currency,omitempty"`
	TaxRate  *float64 `json:"tax_rate,omitempty"`
}

type OutletUpdateRequest struct {
	Name    *string  `json:"name,omitempty"`
	Code    *string  `json:"code,omitempty"`
	Type    *string  `json:"type,omitempty"`
	Phone   *string  `json:"phone,omitempty"`
	Email   *string  `json:"email,omitempty"`
	Address *string  `json:"address,omitempty"`
	City    *string  `json:"city,omitempty"`
	TaxRate *float64 `json:"tax_rate,omitempty"`
}

type Category struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductVariant adjusts the parent product's price; stock stays on the
// parent.
type ProductVariant struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id,omitempty"`
	Name            string `json:"name"`
	SKUSuffix       string `json:"sku_suffix,omitempty"`
	PriceAdjustment int64  `json:"price_adjustment"`
	IsActive        bool   `json:"is_active"`
}

// PriceTier replaces the base selling price once a line quantity reaches
// MinQuantity. The highest matching tier wins.
type PriceTier struct {
	MinQuantity int   `json:"min_quantity"`
	UnitPrice   int64 `json:"unit_price"`
}

type Product struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenant_id"`
	OutletID     string           `json:"outlet_id"`
	CategoryID   string           `json:"category_id,omitempty"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	SKU          string           `json:"sku"`
	Barcode      string           `json:"barcode,omitempty"`
	SellingPrice int64            `json:"selling_price"`
	CostPrice    int64            `json:"cost_price"`
	CurrentStock int              `json:"current_stock"`
	MinStock     int              `json:"min_stock"`
	Unit         string           `json:"unit"`
	TaxRate      float64          `json:"tax_rate"`
	IsTaxable    bool             `json:"is_taxable"`
	TrackStock   bool             `json:"track_stock"`
	IsActive     bool             `json:"is_active"`
	Variants     []ProductVariant `json:"variants,omitempty"`
	PriceTiers   []PriceTier      `json:"price_tiers,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.TrackStock && p.CurrentStock <= p.MinStock
}

type ProductCreateRequest struct {
	OutletID     string           `json:"outlet_id"`
	CategoryID   string           `json:"category_id,omitempty"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	SKU          string           `json:"sku"`
	Barcode      string           `json:"barcode,omitempty"`
	SellingPrice int64            `json:"selling_price"`
	CostPrice    int64            `json:"cost_price"`
	CurrentStock int              `json:"current_stock"`
	MinStock     int              `json:"min_stock"`
	Unit         string           `json:"unit,omitempty"`
	TaxRate      *float64         `json:"tax_rate,omitempty"`
	IsTaxable    *bool            `json:"is_taxable,omitempty"`
	TrackStock   *bool            `json:"track_stock,omitempty"`
	Variants     []ProductVariant `json:"variants,omitempty"`
	PriceTiers   []PriceTier      `json:"price_tiers,omitempty"`
}

type ProductUpdateRequest struct {
	CategoryID   *string           `json:"category_id,omitempty"`
	Name         *string           `json:"name,omitempty"`
	Description  *string           `json:"description,omitempty"`
	SKU          *string           `json:"sku,omitempty"`
	Barcode      *string           `json:"barcode,omitempty"`
	SellingPrice *int64            `json:"selling_price,omitempty"`
	CostPrice    *int64            `json:"cost_price,omitempty"`
	MinStock     *int              `json:"min_stock,omitempty"`
	Unit         *string           `json:"unit,omitempty"`
	TaxRate      *float64          `json:"tax_rate,omitempty"`
	IsTaxable    *bool             `json:"is_taxable,omitempty"`
	TrackStock   *bool             `json:"track_stock,omitempty"`
	IsActive     *bool             `json:"is_active,omitempty"`
	Variants     *[]ProductVariant `json:"variants,omitempty"`
	PriceTiers   *[]PriceTier      `json:"price_tiers,omitempty"`
}

type ProductFilter struct {
	OutletID        string
	CategoryID      string
	Search          string
	LowStockOnly    bool
	IncludeInactive bool
}

type ProductListResponse struct {
	Count         int       `json:"count"`
	LowStockCount int       `json:"low_stock_count"`
	Products      []Product `json:"products"`
}

type StockAdjustRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type StockAdjustResponse struct {
	Product       Product `json:"product"`
	PreviousStock int     `json:"previous_stock"`
	NewStock      int     `json:"new_stock"`
	Adjustment    int     `json:"adjustment"`
	Reason        string  `json:"reason"`
}

type SaleItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Discount  int64  `json:"discount,omitempty"`
}

type PostTransactionRequest struct {
	OutletID       string     `json:"outlet_id"`
	ShiftID        string     `json:"shift_id,omitempty"`
	Items          []SaleItem `json:"items"`
	PaymentMethod  string     `json:"payment_method"`
	AmountPaid     int64      `json:"amount_paid,omitempty"`
	Discount       int64      `json:"discount,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerPhone  string     `json:"customer_phone,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	LocalID        string     `json:"local_id,omitempty"`
	IsOfflineSync  bool       `json:"is_offline_sync,omitempty"`
}

// TransactionItem is a snapshot of product state at sale time. Later
// product edits never alter historical receipts.
type TransactionItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductSKU  string `json:"product_sku"`
	VariantID   string `json:"variant_id,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Discount    int64  `json:"discount"`
	Tax         int64  `json:"tax"`
	Subtotal    int64  `json:"subtotal"`
}

type Transaction struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	OutletID       string            `json:"outlet_id"`
	UserID         string            `json:"user_id"`
	ShiftID        string            `json:"shift_id,omitempty"`
	Number         string            `json:"transaction_number"`
	Subtotal       int64             `json:"subtotal"`
	Discount       int64             `json:"discount"`
	Tax            int64             `json:"tax"`
	Total          int64             `json:"total"`
	PaymentMethod  string            `json:"payment_method"`
	AmountPaid     int64             `json:"amount_paid"`
	ChangeAmount   int64             `json:"change_amount"`
	Status         string            `json:"status"`
	CustomerName   string            `json:"customer_name,omitempty"`
	CustomerPhone  string            `json:"customer_phone,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	LocalID        string            `json:"local_id,omitempty"`
	IsOfflineSync  bool              `json:"is_offline_sync,omitempty"`
	VoidReason     string            `json:"void_reason,omitempty"`
	VoidedAt       *time.Time        `json:"voided_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []TransactionItem `json:"items"`
	Refunds        []Refund          `json:"refunds,omitempty"`
}

func (t Transaction) TotalRefunded() int64 {
	var sum int64
	for _, r := range t.Refunds {
		sum += r.Amount
	}
	return sum
}

type PostTransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	IsDuplicate bool        `json:"is_duplicate"`
}

// TransactionFilter is the closed, named shape for transaction queries;
// there is no free-form where clause.
type TransactionFilter struct {
	OutletID  string
	ShiftID   string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

type TransactionListResponse struct {
	Count        int           `json:"count"`
	TotalAmount  int64         `json:"total_amount"`
	Transactions []Transaction `json:"transactions"`
}

type PaymentMethodStat struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
	Total  int64  `json:"total"`
}

type TransactionStats struct {
	TotalTransactions int64               `json:"total_transactions"`
	TotalRevenue      int64               `json:"total_revenue"`
	TotalTax          int64               `json:"total_tax"`
	TotalDiscount     int64               `json:"total_discount"`
	PaymentMethods    []PaymentMethodStat `json:"payment_methods"`
}

type RefundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	ApprovedBy    string `json:"approved_by,omitempty"`
}

type Refund struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	TransactionID string     `json:"transaction_id"`
	Number        string     `json:"refund_number"`
	Amount        int64      `json:"amount"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	ApprovedBy    string     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type RefundResponse struct {
	Refund            Refund `json:"refund"`
	TransactionStatus string `json:"transaction_status"`
}

type VoidTransactionRequest struct {
	Reason string `json:"reason"`
}

type Shift struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	OutletID          string     `json:"outlet_id"`
	UserID            string     `json:"user_id"`
	Number            string     `json:"shift_number"`
	Status            string     `json:"status"`
	OpeningFloat      int64      `json:"opening_float"`
	ClosingCash       int64      `json:"closing_cash,omitempty"`
	ExpectedCash      int64      `json:"expected_cash,omitempty"`
	CashDifference    int64      `json:"cash_difference,omitempty"`
	TotalTransactions int64      `json:"total_transactions"`
	TotalSales        int64      `json:"total_sales"`
	Notes             string     `json:"notes,omitempty"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	OutletID     string `json:"outlet_id"`
	OpeningFloat int64  `json:"opening_float"`
}

type ShiftCloseRequest struct {
	ShiftID     string `json:"shift_id"`
	ClosingCash int64  `json:"closing_cash"`
	Notes       string `json:"notes,omitempty"`
}

type AuditLog struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	OldValues  json.RawMessage `json:"old_values,omitempty"`
	NewValues  json.RawMessage `json:"new_values,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AuditLogFilter struct {
	Resource  string
	UserID    string
	Action    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

type Role struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	OutletID     string     `json:"outlet_id,omitempty"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	RoleID       string     `json:"role_id"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleID    string `json:"role_id,omitempty"`
	OutletID  string `json:"outlet_id,omitempty"`
}

type AuthUser struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type LoginResponse struct {
	User         AuthUser `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Actor is the authenticated caller attached to a request context. The
// auth layer resolves it before any core logic runs.
type Actor struct {
	UserID      string
	TenantID    string
	Username    string
	Role        string
	Permissions []string
}

func (a Actor) Can(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission || p == PermissionAll {
			return true
		}
	}
	return false
}

const (
	TxStatusCompleted     = "COMPLETED"
	TxStatusPartialRefund = "PARTIAL_REFUND"
	TxStatusRefunded      = "REFUNDED"
	TxStatusVoid          = "VOID"
)

const (
	RefundStatusPending  = "PENDING"
	RefundStatusApproved = "APPROVED"
)

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

const (
	AuditActionCreate = "CREATE"
	AuditActionUpdate = "UPDATE"
	AuditActionDelete = "DELETE"
	AuditActionRefund = "REFUND"
	AuditActionVoid   = "VOID"
	AuditActionAdjust = "ADJUST_STOCK"
	AuditActionLogin  = "LOGIN"
)

const (
	PlanFree    = "FREE"
	PlanStarter = "STARTER"
	PlanPro     = "PRO"
)

const (
	PermissionAll          = "*"
	PermissionSaleCreate   = "sale:create"
	PermissionSaleRefund   = "sale:refund"
	PermissionSaleVoid     = "sale:void"
	PermissionProductWrite = "product:write"
	PermissionOutletWrite  = "outlet:write"
	PermissionUserManage   = "user:manage"
	PermissionReportView   = "report:view"
	PermissionAuditView    = "audit:view"
)

var paymentMethods = map[string]bool{
	"CASH":     true,
	"CARD":     true,
	"QRIS":     true,
	"TRANSFER": true,
	"EWALLET":  true,
}

func ValidPaymentMethod(method string) bool {
	return paymentMethods[method]
}
