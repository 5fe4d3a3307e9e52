package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/catalog"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/payment_service/redirect"
)

const testJWTSecret = "test-secret"

type MockCheckout struct {
	mock.Mock
}

func (m *MockCheckout) StartCheckout(ctx context.Context, userID, packageID string, buyer domain.Buyer) (*app.CheckoutResult, error) {
	args := m.Called(ctx, userID, packageID, buyer)
	res, _ := args.Get(0).(*app.CheckoutResult)
	return res, args.Error(1)
}

func (m *MockCheckout) GetSession(ctx context.Context, userID, sessionID string) (*domain.PaymentSession, error) {
	args := m.Called(ctx, userID, sessionID)
	s, _ := args.Get(0).(*domain.PaymentSession)
	return s, args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, sessionID string, claimed domain.Outcome) (*app.ReconcileResult, error) {
	args := m.Called(ctx, sessionID, claimed)
	res, _ := args.Get(0).(*app.ReconcileResult)
	return res, args.Error(1)
}

func (m *MockReconciler) HandleGatewayCallback(ctx context.Context, raw []byte, signature string) (*app.ReconcileResult, error) {
	args := m.Called(ctx, raw, signature)
	res, _ := args.Get(0).(*app.ReconcileResult)
	return res, args.Error(1)
}

type MockCredits struct {
	mock.Mock
}

func (m *MockCredits) Balance(ctx context.Context, userID string) (*domain.UserCreditBalance, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*domain.UserCreditBalance)
	return b, args.Error(1)
}

func (m *MockCredits) Entries(ctx context.Context, userID string, limit, offset int) ([]domain.CreditLedgerEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	e, _ := args.Get(0).([]domain.CreditLedgerEntry)
	return e, args.Error(1)
}

type testServer struct {
	handler    http.Handler
	checkout   *MockCheckout
	reconciler *MockReconciler
	credits    *MockCredits
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	renderer, err := redirect.NewRenderer("partsmarket", 2*time.Second)
	require.NoError(t, err)

	cat := catalog.NewStaticCatalog([]domain.PackageDefinition{
		{ID: "spare-10", Name: "Spare 10", Category: domain.CategorySpareParts, Credits: 10, BonusCredits: 2, Price: decimal.NewFromInt(50), Currency: "AED", IsActive: true},
		{ID: "auto-5", Name: "Auto 5", Category: domain.CategoryAutomotive, Credits: 5, Price: decimal.NewFromInt(120), Currency: "AED", IsActive: true},
		{ID: "legacy", Name: "Legacy", Category: domain.CategorySpareParts, Credits: 1, Price: decimal.NewFromInt(5), Currency: "AED"},
	})

	ts := &testServer{checkout: new(MockCheckout), reconciler: new(MockReconciler), credits: new(MockCredits)}
	ts.handler = NewRouter(RouterDeps{
		Checkout:  NewCheckoutHandler(ts.checkout, cat, logger),
		Reconcile: NewReconcileHandler(ts.reconciler, renderer, logger),
		Credits:   NewCreditsHandler(ts.credits, logger),
		JWTSecret: testJWTSecret,
		Logger:    logger,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func authed(t *testing.T, req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub":         "user-1",
		"email":       "ali@example.com",
		"given_name":  "Ali",
		"family_name": "Saeed",
		"exp":         time.Now().Add(time.Hour).Unix(),
	}))
	return req
}

func successResult(sessionID string) *app.ReconcileResult {
	spare, auto := 12, 0
	return &app.ReconcileResult{
		Success: true, SessionID: sessionID, Status: domain.SessionStatusSucceeded,
		Message: "Payment successful.", SparePartsCredits: &spare, AutomotiveCredits: &auto,
	}
}

func TestListPackages(t *testing.T) {
	ts := newTestServer(t)

	t.Run("FilterByCategory", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/packages?category=spare_parts", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ListPackagesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Packages, 1)
		assert.Equal(t, "spare-10", resp.Packages[0].ID)
		assert.Equal(t, 12, resp.Packages[0].TotalCredits)
		assert.Equal(t, "50.00", resp.Packages[0].Price)
	})

	t.Run("AllActive", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/packages", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ListPackagesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Packages, 2)
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/packages?category=boats", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	newRequest := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	t.Run("Success", func(t *testing.T) {
		ts := newTestServer(t)
		buyer := domain.Buyer{Email: "ali@example.com", FirstName: "Ali", LastName: "Saeed", Phone: "+971500000000"}
		ts.checkout.On("StartCheckout", mock.Anything, "user-1", "spare-10", buyer).Return(&app.CheckoutResult{
			Session:     &domain.PaymentSession{ID: "sess-1", Status: domain.SessionStatusPending},
			RedirectURL: "https://gateway.test/pay/abc",
		}, nil).Once()

		rec := ts.do(authed(t, newRequest(`{"packageId":"spare-10","phone":"+971500000000"}`)))
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp CreateCheckoutSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "sess-1", resp.SessionID)
		assert.Equal(t, "https://gateway.test/pay/abc", resp.RedirectURL)
		assert.Equal(t, domain.SessionStatusPending, resp.Status)
		ts.checkout.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(newRequest(`{"packageId":"spare-10"}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		ts.checkout.AssertNotCalled(t, "StartCheckout", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		ts := newTestServer(t)
		req := newRequest(`{"packageId":"spare-10"}`)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
			"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix(),
		}))
		assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		ts := newTestServer(t)
		body := `{"packageId":"spare-10","firstName":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`
		rec := ts.do(authed(t, newRequest(body)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		ts.checkout.AssertNotCalled(t, "StartCheckout", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingPackageID", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(authed(t, newRequest(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	errCases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"InvalidPackage", domain.ErrInvalidPackage, http.StatusBadRequest, "Invalid or inactive package"},
		{"Rejected", domain.ErrGatewayRejected, http.StatusUnprocessableEntity, "We could not process this payment"},
		{"Unavailable", domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "Payment provider is temporarily unavailable"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.checkout.On("StartCheckout", mock.Anything, "user-1", "spare-10", mock.Anything).Return(nil, tc.err).Once()

			rec := ts.do(authed(t, newRequest(`{"packageId":"spare-10"}`)))
			assert.Equal(t, tc.status, rec.Code)
			var resp GenericErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.msg, resp.Error)
		})
	}
}

func TestGetCheckoutSession(t *testing.T) {
	ts := newTestServer(t)
	reason := "insufficient funds"
	ts.checkout.On("GetSession", mock.Anything, "user-1", "sess-1").Return(&domain.PaymentSession{
		ID: "sess-1", PackageID: "spare-10", Category: domain.CategorySpareParts, Credits: 12,
		Amount: decimal.NewFromInt(50), Currency: "AED", Status: domain.SessionStatusDeclined, DeclineReason: &reason,
	}, nil)
	ts.checkout.On("GetSession", mock.Anything, "user-1", "someone-else").Return(nil, domain.ErrSessionNotFound)

	rec := ts.do(authed(t, httptest.NewRequest(http.MethodGet, "/v1/checkout/sessions/sess-1", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.SessionStatusDeclined, resp.Status)
	assert.Equal(t, "50.00", resp.Amount)
	assert.Equal(t, reason, resp.Reason)

	rec = ts.do(authed(t, httptest.NewRequest(http.MethodGet, "/v1/checkout/sessions/someone-else", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	post := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/v1/payments/reconcile", strings.NewReader(body))
	}

	t.Run("Success", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeSucceeded).Return(successResult("sess-1"), nil).Once()

		rec := ts.do(post(`{"sessionId":"sess-1","claimedOutcome":"success"}`))
		require.Equal(t, http.StatusOK, rec.Code)
		var res app.ReconcileResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		require.NotNil(t, res.SparePartsCredits)
		assert.Equal(t, 12, *res.SparePartsCredits)
		ts.reconciler.AssertExpectations(t)
	})

	t.Run("NoClaim", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.Outcome("")).Return(successResult("sess-1"), nil).Once()
		assert.Equal(t, http.StatusOK, ts.do(post(`{"sessionId":"sess-1"}`)).Code)
	})

	t.Run("Pending", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.Outcome("")).Return(nil, domain.ErrVerificationPending).Once()

		rec := ts.do(post(`{"sessionId":"sess-1"}`))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var res app.ReconcileResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.False(t, res.Success)
		assert.Equal(t, domain.SessionStatusPending, res.Status)
		assert.Nil(t, res.SparePartsCredits)
		assert.NotEmpty(t, res.Message)
	})

	t.Run("AmountMismatch", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.Outcome("")).Return(nil, domain.ErrAmountMismatch).Once()
		rec := ts.do(post(`{"sessionId":"sess-1"}`))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "contact support")
	})

	t.Run("UnknownSession", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "nope", domain.Outcome("")).Return(nil, domain.ErrSessionNotFound).Once()
		rec := ts.do(post(`{"sessionId":"nope"}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NotContains(t, rec.Body.String(), "nope")
	})

	t.Run("InvalidBody", func(t *testing.T) {
		ts := newTestServer(t)
		assert.Equal(t, http.StatusBadRequest, ts.do(post(`{`)).Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(post(`{"claimedOutcome":"success"}`)).Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(post(`{"sessionId":"s","claimedOutcome":"free"}`)).Code)
	})
}

func TestReturnPage(t *testing.T) {
	const iPhoneSafari = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

	t.Run("JSON", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeSucceeded).Return(successResult("sess-1"), nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/payment/return/success?session=sess-1", nil)
		req.Header.Set("Accept", "application/json")
		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		var res app.ReconcileResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
	})

	t.Run("MobileBrowserHandsOff", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeSucceeded).Return(successResult("sess-1"), nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/payment/return/success?session=sess-1", nil)
		req.Header.Set("User-Agent", iPhoneSafari)
		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
		body := rec.Body.String()
		assert.Contains(t, body, "Payment successful")
		assert.Contains(t, body, "partsmarket://payment/success")
	})

	t.Run("SuccessPathShowsDeclinedResult", func(t *testing.T) {
		// Gateways with a single finish URL send every outcome to the success path.
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeSucceeded).Return(&app.ReconcileResult{
			SessionID: "sess-1", Status: domain.SessionStatusDeclined, Message: "declined", Reason: "deny",
		}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/payment/return/success?session=sess-1&order_id=sess-1&transaction_status=deny", nil)
		req.Header.Set("User-Agent", iPhoneSafari)
		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Payment not completed")
		assert.NotContains(t, body, "Payment successful")
		assert.Contains(t, body, "partsmarket://payment/declined")
	})

	t.Run("NativeShellNoHandoff", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeDeclined).Return(&app.ReconcileResult{
			SessionID: "sess-1", Status: domain.SessionStatusDeclined, Message: "declined", Reason: "insufficient funds",
		}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/payment/return/declined?session=sess-1&client=app", nil)
		req.Header.Set("User-Agent", iPhoneSafari)
		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "insufficient funds")
		assert.NotContains(t, rec.Body.String(), "partsmarket://")
	})

	t.Run("PendingShowsMessage", func(t *testing.T) {
		ts := newTestServer(t)
		ts.reconciler.On("Reconcile", mock.Anything, "sess-1", domain.OutcomeCancelled).Return(nil, domain.ErrVerificationPending).Once()

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/payment/return/cancelled?session=sess-1", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "Confirming your payment")
	})

	t.Run("MissingSession", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/payment/return/success", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "Payment not found")
		ts.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnknownOutcome", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/payment/return/paid?session=sess-1", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		ts.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWebhook(t *testing.T) {
	payload := []byte(`{"cart_id":"sess-1","status":"A"}`)
	newRequest := func(body []byte) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
		req.Header.Set(PaymentSignatureHeader, "sig")
		return req
	}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"Processed", nil, http.StatusOK},
		{"InvalidSignature", domain.ErrInvalidSignature, http.StatusBadRequest},
		{"UnknownSession", domain.ErrSessionNotFound, http.StatusNotFound},
		{"StillPending", domain.ErrVerificationPending, http.StatusOK},
		{"StoreFailure", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			var res *app.ReconcileResult
			if tc.err == nil {
				res = successResult("sess-1")
			}
			ts.reconciler.On("HandleGatewayCallback", mock.Anything, payload, "sig").Return(res, tc.err).Once()

			rec := ts.do(newRequest(payload))
			assert.Equal(t, tc.status, rec.Code)
			ts.reconciler.AssertExpectations(t)
		})
	}

	t.Run("BodyTooLarge", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(newRequest(bytes.Repeat([]byte("a"), MaxRequestBodySize+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		ts.reconciler.AssertNotCalled(t, "HandleGatewayCallback", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreditsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.credits.On("Balance", mock.Anything, "user-1").Return(&domain.UserCreditBalance{
		UserID: "user-1", SparePartsCredits: 12, AutomotiveCredits: 5,
	}, nil)
	ts.credits.On("Entries", mock.Anything, "user-1", 5, 10).Return([]domain.CreditLedgerEntry{
		{ID: "e-1", SessionID: "sess-1", Category: domain.CategorySpareParts, CreditsGranted: 12, AmountPaid: decimal.NewFromInt(50), Currency: "AED"},
	}, nil)

	rec := ts.do(authed(t, httptest.NewRequest(http.MethodGet, "/v1/credits/balance", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, BalanceResponse{SparePartsCredits: 12, AutomotiveCredits: 5}, bal)

	rec = ts.do(authed(t, httptest.NewRequest(http.MethodGet, "/v1/credits/ledger?limit=5&offset=10", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger LedgerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, "50.00", ledger.Entries[0].AmountPaid)

	rec = ts.do(authed(t, httptest.NewRequest(http.MethodGet, "/v1/credits/ledger?limit=many", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/credits/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
