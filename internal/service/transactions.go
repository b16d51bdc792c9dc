package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

// PostTransaction prices the cart from current product state, snapshots
// every line, and hands the store one atomic posting. Client-sent prices
// are never trusted.
func (s *Service) PostTransaction(ctx context.Context, req domain.PostTransactionRequest) (*domain.PostTransactionResponse, error) {
	actor, err := s.requireActor(ctx, domain.PermissionSaleCreate)
	if err != nil {
		return nil, err
	}

	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if req.OutletID == "" || len(req.Items) == 0 || !domain.ValidPaymentMethod(req.PaymentMethod) {
		return nil, store.ErrInvalidRequest
	}
	if req.Discount < 0 || req.AmountPaid < 0 {
		return nil, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	usage, err := s.repo.GetBillingUsage(ctx, actor.TenantID, monthStart)
	if err != nil {
		return nil, err
	}
	if err := s.checkPlanLimit(ctx, actor.TenantID,
		func(p domain.BillingPlan) int64 { return p.MaxTransactionsPerMonth },
		usage.TransactionsMonth); err != nil {
		return nil, err
	}

	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 || line.Discount < 0 {
			return nil, store.ErrInvalidRequest
		}
		product, err := s.repo.GetProductByID(ctx, actor.TenantID, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product.OutletID != req.OutletID || !product.IsActive {
			return nil, fmt.Errorf("product %s unavailable at this outlet: %w", line.ProductID, store.ErrNotFound)
		}

		var variant *domain.ProductVariant
		if line.VariantID != "" {
			for i := range product.Variants {
				if product.Variants[i].ID == line.VariantID {
					variant = &product.Variants[i]
					break
				}
			}
			if variant == nil || !variant.IsActive {
				return nil, fmt.Errorf("variant %s unavailable: %w", line.VariantID, store.ErrInvalidRequest)
			}
		}

		unitPrice := domain.ResolveUnitPrice(*product, variant, line.Quantity)
		subtotal, tax := domain.LineAmounts(unitPrice, line.Quantity, line.Discount, product.TaxRate, product.IsTaxable)

		item := domain.TransactionItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductSKU:  product.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice,
			Discount:    line.Discount,
			Tax:         tax,
			Subtotal:    subtotal,
		}
		if variant != nil {
			item.VariantID = variant.ID
			item.VariantName = variant.Name
			if variant.SKUSuffix != "" {
				item.ProductSKU = product.SKU + "-" + variant.SKUSuffix
			}
		}
		items = append(items, item)
	}

	subtotal, tax, total, paid, change, err := domain.Totals(items, req.Discount, req.AmountPaid, req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrInvalidRequest)
	}

	txID := xid.New("tx")
	posted, err := s.repo.PostTransaction(ctx, domain.Transaction{
		ID:             txID,
		TenantID:       actor.TenantID,
		OutletID:       req.OutletID,
		UserID:         actor.UserID,
		ShiftID:        req.ShiftID,
		Subtotal:       subtotal,
		Discount:       req.Discount,
		Tax:            tax,
		Total:          total,
		PaymentMethod:  req.PaymentMethod,
		AmountPaid:     paid,
		ChangeAmount:   change,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		LocalID:        strings.TrimSpace(req.LocalID),
		IsOfflineSync:  req.IsOfflineSync,
		CreatedAt:      now,
		Items:          items,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.met.StockRejections.Inc()
		}
		return nil, err
	}

	// The store returns the earlier posting when the idempotency key was
	// already used; a different ID means this call changed nothing.
	isDuplicate := posted.ID != txID
	if !isDuplicate {
		s.met.TransactionsTotal.WithLabelValues(req.PaymentMethod).Inc()
		s.invalidateStats(ctx, actor.TenantID)
		s.logAudit(ctx, actor, domain.AuditActionCreate, "transaction", posted.ID, nil, map[string]any{
			"number": posted.Number, "total": posted.Total, "payment_method": posted.PaymentMethod,
		})
	}

	return &domain.PostTransactionResponse{Transaction: *posted, IsDuplicate: isDuplicate}, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetTransactionByID(ctx, actor.TenantID, id)
}

func (s *Service) GetTransactionByNumber(ctx context.Context, number string) (*domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetTransactionByNumber(ctx, actor.TenantID, number)
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*domain.TransactionListResponse, error) {
	actor, err := s.requireActor(ctx, domain.PermissionReportView)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 100
	}
	transactions, err := s.repo.ListTransactions(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, err
	}
	var totalAmount int64
	for _, tx := range transactions {
		if tx.Status != domain.TxStatusVoid {
			totalAmount += tx.Total
		}
	}
	return &domain.TransactionListResponse{
		Count:        len(transactions),
		TotalAmount:  totalAmount,
		Transactions: transactions,
	}, nil
}

func (s *Service) GetTransactionStats(ctx context.Context, filter domain.TransactionFilter) (*domain.TransactionStats, error) {
	actor, err := s.requireActor(ctx, domain.PermissionReportView)
	if err != nil {
		return nil, err
	}

	key := statsKey(actor.TenantID, filter)
	if cached, ok, err := s.stats.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("stats cache read failed")
	}

	stats, err := s.repo.GetTransactionStats(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, err
	}
	if err := s.stats.Set(ctx, key, stats, s.statsTTL); err != nil {
		s.log.Warn().Err(err).Msg("stats cache write failed")
	}
	return stats, nil
}

func statsKey(tenantID string, filter domain.TransactionFilter) string {
	start, end := "", ""
	if filter.StartDate != nil {
		start = filter.StartDate.UTC().Format(time.RFC3339)
	}
	if filter.EndDate != nil {
		end = filter.EndDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("stats|%s|%s|%s|%s", tenantID, filter.OutletID, start, end)
}

func (s *Service) invalidateStats(ctx context.Context, tenantID string) {
	if err := s.stats.Invalidate(ctx, "stats|"+tenantID); err != nil {
		s.log.Warn().Err(err).Msg("stats cache invalidation failed")
	}
}

// RefundTransaction issues a partial or full refund. The store owns the
// balance arithmetic and the parent status transition; this layer owns
// the approval workflow.
func (s *Service) RefundTransaction(ctx context.Context, req domain.RefundRequest) (*domain.RefundResponse, error) {
	actor, err := s.requireActor(ctx, domain.PermissionSaleRefund)
	if err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.TransactionID == "" || req.Amount < 1 || req.Reason == "" {
		return nil, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	refund := domain.Refund{
		ID:            xid.New("refund"),
		TenantID:      actor.TenantID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Status:        domain.RefundStatusPending,
		CreatedAt:     now,
	}
	if approver := strings.TrimSpace(req.ApprovedBy); approver != "" {
		refund.Status = domain.RefundStatusApproved
		refund.ApprovedBy = approver
		refund.ApprovedAt = &now
	}

	created, txStatus, err := s.repo.CreateRefund(ctx, refund)
	if err != nil {
		return nil, err
	}

	s.met.RefundsTotal.Inc()
	s.invalidateStats(ctx, actor.TenantID)
	s.logAudit(ctx, actor, domain.AuditActionRefund, "transaction", req.TransactionID, nil, map[string]any{
		"refund_number": created.Number, "amount": created.Amount, "transaction_status": txStatus,
	})

	return &domain.RefundResponse{Refund: *created, TransactionStatus: txStatus}, nil
}

// VoidTransaction cancels a completed sale outright and restocks its
// items. Refunded sales cannot be voided; money already moved back.
func (s *Service) VoidTransaction(ctx context.Context, id string, req domain.VoidTransactionRequest) (*domain.Transaction, error) {
	actor, err := s.requireActor(ctx, domain.PermissionSaleVoid)
	if err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if id == "" || req.Reason == "" {
		return nil, store.ErrInvalidRequest
	}

	voided, err := s.repo.VoidTransaction(ctx, actor.TenantID, id, req.Reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, actor.TenantID)
	s.logAudit(ctx, actor, domain.AuditActionVoid, "transaction", id, nil, map[string]any{
		"reason": req.Reason,
	})
	return voided, nil
}
