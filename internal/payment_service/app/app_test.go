package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/golang_services/internal/payment_service/catalog"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/payment_service/repository/memory"
)

// MockGateway is a testify mock of domain.GatewayAdapter.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "fake" }

func (m *MockGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*domain.OrderResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) ConfirmOutcome(ctx context.Context, s *domain.PaymentSession) (*domain.GatewayOutcome, error) {
	args := m.Called(ctx, s.ID)
	if out := args.Get(0); out != nil {
		return out.(*domain.GatewayOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) ParseCallback(ctx context.Context, raw []byte, signature string) (*domain.CallbackEvent, error) {
	args := m.Called(ctx, raw, signature)
	if ev := args.Get(0); ev != nil {
		return ev.(*domain.CallbackEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingPublisher captures published subjects.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, CallTimeout: time.Second}

var testPackages = []domain.PackageDefinition{
	{ID: "spare-10", Name: "Spare parts starter", Category: domain.CategorySpareParts, Credits: 10, BonusCredits: 2,
		Price: decimal.NewFromInt(50), Currency: "AED", IsActive: true},
	{ID: "auto-5", Name: "Automotive basic", Category: domain.CategoryAutomotive, Credits: 5, BonusCredits: 0,
		Price: decimal.NewFromInt(120), Currency: "AED", IsActive: true},
	{ID: "legacy", Name: "Retired bundle", Category: domain.CategorySpareParts, Credits: 3,
		Price: decimal.NewFromInt(10), Currency: "AED", IsActive: false},
}

type fixture struct {
	store      *memory.Store
	gateway    domain.GatewayAdapter
	events     *recordingPublisher
	checkout   *CheckoutService
	reconciler *Reconciler
}

func newFixture(t *testing.T, gateway domain.GatewayAdapter) *fixture {
	t.Helper()
	store := memory.NewStore()
	events := &recordingPublisher{}
	logger := testLogger()
	return &fixture{
		store:   store,
		gateway: gateway,
		events:  events,
		checkout: NewCheckoutService(catalog.NewStaticCatalog(testPackages), store, gateway, events,
			CheckoutConfig{PublicBaseURL: "https://pay.partsmarket.test/", Retry: testRetryPolicy}, logger),
		reconciler: NewReconciler(store, store, store, gateway, events,
			ReconcilerConfig{Retry: testRetryPolicy}, logger),
	}
}

func (f *fixture) newSession(t *testing.T, userID, packageID string) *domain.PaymentSession {
	t.Helper()
	s, err := f.checkout.CreateSession(context.Background(), userID, packageID)
	require.NoError(t, err)
	return s
}

func succeededOutcome(amount int64) *domain.GatewayOutcome {
	return &domain.GatewayOutcome{Outcome: domain.OutcomeSucceeded, Amount: decimal.NewFromInt(amount), Currency: "AED", TransactionRef: "tx-1"}
}

func intPtr(v int) *int { return &v }
