package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coacandes/cuentas-service/internal/model"
	"github.com/coacandes/cuentas-service/internal/repository"
	"github.com/coacandes/cuentas-service/internal/service"
)

type stubService struct {
	pingErr error

	createResp *model.Account
	createErr  error

	updateResp *model.Account
	updateErr  error

	getResp *model.Account
	getErr  error

	byMemberResp []model.Account
	byMemberErr  error

	activeResp []model.Account
	activeErr  error

	deleteErr error

	depositResp *model.Account
	depositErr  error

	withdrawResp *model.Account
	withdrawErr  error
}

func (s *stubService) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubService) CreateAccount(ctx context.Context, memberID, number, accountType string, initialBalance decimal.Decimal) (*model.Account, error) {
	return s.createResp, s.createErr
}

func (s *stubService) UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error) {
	return s.updateResp, s.updateErr
}

func (s *stubService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.getResp, s.getErr
}

func (s *stubService) GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error) {
	return s.byMemberResp, s.byMemberErr
}

func (s *stubService) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	return s.activeResp, s.activeErr
}

func (s *stubService) DeleteAccount(ctx context.Context, id string) error { return s.deleteErr }

func (s *stubService) Deposit(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return s.depositResp, s.depositErr
}

func (s *stubService) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return s.withdrawResp, s.withdrawErr
}

func testAccount() *model.Account {
	return &model.Account{
		ID:        "2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111",
		MemberID:  "socio-1",
		Number:    "001-123456789",
		Balance:   decimal.RequireFromString("150.5"),
		Type:      "SAVINGS",
		Status:    model.AccountStatusActive,
		Active:    true,
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func doRequest(t *testing.T, svc Service, method, path, body string) *http.Response {
	t.Helper()

	h := NewHandler(svc, zap.NewNop())
	router := h.SetupRouter()

	var reqBody io.Reader
	if body != "" {
		reqBody = bytes.NewReader([]byte(body))
	}

	req := httptest.NewRequest(method, path, reqBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w.Result()
}

func TestCreateAccount(t *testing.T) {
	validBody := `{"socioId":"socio-1","numeroCuenta":"001-123456789","saldo":100.00,"tipoCuenta":"SAVINGS"}`

	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
	}{
		{
			name:       "created",
			svc:        &stubService{createResp: testAccount()},
			body:       validBody,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "member not found",
			svc:        &stubService{createErr: service.ErrMemberNotFound},
			body:       validBody,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "member inactive",
			svc:        &stubService{createErr: service.ErrMemberInactive},
			body:       validBody,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "registry unavailable",
			svc:        &stubService{createErr: service.ErrMembersUnavailable},
			body:       validBody,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "duplicate number",
			svc:        &stubService{createErr: repository.ErrAccountNumberTaken},
			body:       validBody,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "negative initial balance",
			svc:        &stubService{createErr: service.ErrInvalidAmount},
			body:       validBody,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			svc:        &stubService{},
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing member id",
			svc:        &stubService{},
			body:       `{"numeroCuenta":"001-123456789","tipoCuenta":"SAVINGS"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad account number format",
			svc:        &stubService{},
			body:       `{"socioId":"socio-1","numeroCuenta":"ABC","tipoCuenta":"SAVINGS"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, tt.svc, http.MethodPost, "/api/cuentas", tt.body)
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCreateAccount_ResponseBody(t *testing.T) {
	svc := &stubService{createResp: testAccount()}

	res := doRequest(t, svc, http.MethodPost, "/api/cuentas",
		`{"socioId":"socio-1","numeroCuenta":"001-123456789","saldo":150.50,"tipoCuenta":"SAVINGS"}`)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	// Баланс сериализуется числом с двумя знаками после запятой.
	if !strings.Contains(string(body), `"saldo":150.50`) {
		t.Fatalf("body %s does not contain normalized saldo", body)
	}

	var view model.AccountView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.ID != "2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111" || view.Status != "ACTIVE" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.CreatedAt != "2024-01-15T10:30:00Z" {
		t.Fatalf("createdAt = %s, want RFC3339", view.CreatedAt)
	}
}

func TestGetAccount(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		res := doRequest(t, &stubService{getResp: testAccount()}, http.MethodGet,
			"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		if ct := res.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content-type = %q", ct)
		}
	})

	t.Run("not found", func(t *testing.T) {
		res := doRequest(t, &stubService{getErr: repository.ErrAccountNotFound}, http.MethodGet,
			"/api/cuentas/missing", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
		}
	})
}

func TestListAccounts_EmptyArray(t *testing.T) {
	res := doRequest(t, &stubService{}, http.MethodGet, "/api/cuentas", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("body = %q, want empty JSON array", body)
	}
}

func TestListAccountsByMember(t *testing.T) {
	svc := &stubService{byMemberResp: []model.Account{*testAccount()}}

	res := doRequest(t, svc, http.MethodGet, "/api/cuentas/socio/socio-1", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var views []model.AccountView
	if err := json.NewDecoder(res.Body).Decode(&views); err != nil {
		t.Fatalf("decode views: %v", err)
	}
	if len(views) != 1 || views[0].MemberID != "socio-1" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestUpdateAccount(t *testing.T) {
	validBody := `{"socioId":"socio-1","numeroCuenta":"001-123456789","tipoCuenta":"CHECKING"}`

	tests := []struct {
		name       string
		svc        *stubService
		wantStatus int
	}{
		{"updated", &stubService{updateResp: testAccount()}, http.StatusOK},
		{"not found", &stubService{updateErr: repository.ErrAccountNotFound}, http.StatusNotFound},
		{"number taken", &stubService{updateErr: repository.ErrAccountNumberTaken}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, tt.svc, http.MethodPut,
				"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111", validBody)
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		res := doRequest(t, &stubService{}, http.MethodDelete,
			"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
		}
	})

	t.Run("already deleted", func(t *testing.T) {
		res := doRequest(t, &stubService{deleteErr: repository.ErrAccountNotFound}, http.MethodDelete,
			"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
		}
	})
}

func TestWithdraw(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
	}{
		{"ok", &stubService{withdrawResp: testAccount()}, `{"monto":50.00}`, http.StatusOK},
		{"insufficient funds", &stubService{withdrawErr: repository.ErrInsufficientBalance}, `{"monto":500.00}`, http.StatusConflict},
		{"account not active", &stubService{withdrawErr: repository.ErrAccountNotActive}, `{"monto":50.00}`, http.StatusConflict},
		{"not found", &stubService{withdrawErr: repository.ErrAccountNotFound}, `{"monto":50.00}`, http.StatusNotFound},
		{"invalid amount", &stubService{withdrawErr: service.ErrInvalidAmount}, `{"monto":-1}`, http.StatusBadRequest},
		{"missing amount", &stubService{}, `{}`, http.StatusBadRequest},
		{"malformed body", &stubService{}, `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, tt.svc, http.MethodPost,
				"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111/retiro", tt.body)
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestDeposit(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
	}{
		{"ok", &stubService{depositResp: testAccount()}, `{"monto":50.00}`, http.StatusOK},
		{"account not active", &stubService{depositErr: repository.ErrAccountNotActive}, `{"monto":50.00}`, http.StatusConflict},
		{"not found", &stubService{depositErr: repository.ErrAccountNotFound}, `{"monto":50.00}`, http.StatusNotFound},
		{"invalid amount", &stubService{depositErr: service.ErrInvalidAmount}, `{"monto":0}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, tt.svc, http.MethodPost,
				"/api/cuentas/2c44bd4a-3f0e-4f3b-9c35-76b6b4c3b111/deposito", tt.body)
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		res := doRequest(t, &stubService{}, http.MethodGet, "/api/health", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
	})

	t.Run("store down", func(t *testing.T) {
		res := doRequest(t, &stubService{pingErr: context.DeadlineExceeded}, http.MethodGet, "/api/health", "")
		defer res.Body.Close()

		if res.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
		}
	})
}

func TestUnknownRoute(t *testing.T) {
	res := doRequest(t, &stubService{}, http.MethodGet, "/api/unknown", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
