package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{Logger: zerolog.Nop()})
	auth := NewAuthManager("test-secret-key", time.Hour)

	return New(svc, auth, Options{AllowedOrigin: "*", Logger: zerolog.Nop()})
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.LoginRequest{
		UsernameOrEmail: "admin",
		Password:        "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected both tokens in response, got %+v", resp)
	}
	if resp.User.Username != "admin" || resp.User.Role != "admin" {
		t.Fatalf("unexpected user payload: %+v", resp.User)
	}
	if resp.ExpiresIn <= 0 {
		t.Fatalf("expected positive expires_in, got %d", resp.ExpiresIn)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.LoginRequest{
		UsernameOrEmail: "admin",
		Password:        "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleRefresh_RotatesToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")

	payload, _ := json.Marshal(domain.RefreshRequest{RefreshToken: login.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.RefreshToken == login.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The original token is spent.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused token, got %d", rec.Code)
	}
}

func TestHandleLogout(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")

	payload, _ := json.Marshal(domain.LogoutRequest{RefreshToken: login.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	refreshPayload, _ := json.Marshal(domain.RefreshRequest{RefreshToken: login.RefreshToken})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(refreshPayload))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Count == 0 || len(resp.Products) == 0 {
		t.Fatalf("expected seeded products, got %+v", resp)
	}
}

func TestHandlePostTransaction(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")

	payload, _ := json.Marshal(domain.PostTransactionRequest{
		OutletID:       memory.SeedOutletID,
		Items:          []domain.SaleItem{{ProductID: memory.SeedProductKopi, Quantity: 2}},
		PaymentMethod:  "CASH",
		AmountPaid:     25000,
		IdempotencyKey: "handler-test-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.PostTransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Transaction.Total != 22200 || resp.Transaction.ChangeAmount != 2800 {
		t.Fatalf("unexpected totals: %+v", resp.Transaction)
	}
	if resp.IsDuplicate {
		t.Fatal("fresh posting flagged duplicate")
	}

	// Replay with the same idempotency key comes back 200, not 201.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var replay domain.PostTransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&replay); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !replay.IsDuplicate || replay.Transaction.ID != resp.Transaction.ID {
		t.Fatalf("replay did not return original transaction: %+v", replay)
	}
}

func TestHandleRefund_FullFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	postPayload, _ := json.Marshal(domain.PostTransactionRequest{
		OutletID:      memory.SeedOutletID,
		Items:         []domain.SaleItem{{ProductID: memory.SeedProductKopi, Quantity: 1}},
		PaymentMethod: "QRIS",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(postPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("posting failed: %d %s", rec.Code, rec.Body.String())
	}
	var posted domain.PostTransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&posted); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	refundPayload, _ := json.Marshal(map[string]any{
		"amount": posted.Transaction.Total,
		"reason": "customer returned the order",
	})
	path := fmt.Sprintf("/api/v1/transactions/%s/refund", posted.Transaction.ID)
	req = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(refundPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var refund domain.RefundResponse
	if err := json.NewDecoder(rec.Body).Decode(&refund); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if refund.TransactionStatus != domain.TxStatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", refund.TransactionStatus)
	}
}

func TestHandleRefund_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(map[string]any{"amount": 100, "reason": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/tx-unknown/refund", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleTransactionStats_CashierAllowed(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/stats", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleAuditLogs_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleShiftLifecycle(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	openPayload, _ := json.Marshal(domain.ShiftOpenRequest{
		OutletID:     memory.SeedOutletID,
		OpeningFloat: 100000,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader(openPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: %d %s", rec.Code, rec.Body.String())
	}
	var opened struct {
		Shift domain.Shift `json:"shift"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/shifts/active?outlet_id="+memory.SeedOutletID, nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("active shift: %d %s", rec.Code, rec.Body.String())
	}

	closePayload, _ := json.Marshal(domain.ShiftCloseRequest{
		ShiftID:     opened.Shift.ID,
		ClosingCash: 100000,
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/shifts/close", bytes.NewReader(closePayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("close shift: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleInsufficientStockConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	login := loginAs(t, api, "admin", "admin123")

	payload, _ := json.Marshal(domain.PostTransactionRequest{
		OutletID:      memory.SeedOutletID,
		Items:         []domain.SaleItem{{ProductID: memory.SeedProductKopi, Quantity: 99}},
		PaymentMethod: "QRIS",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func loginAs(t *testing.T, api *API, username, password string) domain.LoginResponse {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{UsernameOrEmail: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d: %s", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload
}
