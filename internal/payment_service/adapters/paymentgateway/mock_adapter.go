package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// MockPaymentGatewayAdapter simulates a gateway for local development. Orders
// "complete" instantly: the redirect URL is the success return URL, and
// ConfirmOutcome reports DefaultOutcome unless an outcome was set for the session.
type MockPaymentGatewayAdapter struct {
	logger                *slog.Logger
	webhookSecret         string
	SimulateCreateFailure bool
	SimulateRejection     bool
	DefaultOutcome        domain.Outcome

	mu       sync.Mutex
	outcomes map[string]domain.GatewayOutcome
}

func NewMockPaymentGatewayAdapter(logger *slog.Logger, webhookSecret string) *MockPaymentGatewayAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockPaymentGatewayAdapter{
		logger:         logger.With("adapter", "mock_payment_gateway"),
		webhookSecret:  webhookSecret,
		DefaultOutcome: domain.OutcomeSucceeded,
		outcomes:       make(map[string]domain.GatewayOutcome),
	}
}

func (m *MockPaymentGatewayAdapter) Name() string {
	return "mock"
}

// SetOutcome fixes what ConfirmOutcome reports for sessionID.
func (m *MockPaymentGatewayAdapter) SetOutcome(sessionID string, o domain.GatewayOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[sessionID] = o
}

func (m *MockPaymentGatewayAdapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	m.logger.InfoContext(ctx, "MockPaymentGatewayAdapter: CreateOrder called", "session_id", req.SessionID, "amount", req.Amount.String(), "currency", req.Currency)

	if m.SimulateCreateFailure {
		return nil, fmt.Errorf("%w: mock gateway simulated outage", domain.ErrGatewayUnavailable)
	}
	if m.SimulateRejection {
		return nil, fmt.Errorf("%w: mock gateway simulated validation error", domain.ErrGatewayRejected)
	}

	return &domain.OrderResponse{
		OrderRef:    "mock_ord_" + uuid.NewString(),
		RedirectURL: req.Returns.Success,
	}, nil
}

func (m *MockPaymentGatewayAdapter) ConfirmOutcome(ctx context.Context, s *domain.PaymentSession) (*domain.GatewayOutcome, error) {
	m.mu.Lock()
	o, ok := m.outcomes[s.ID]
	m.mu.Unlock()
	if !ok {
		o = domain.GatewayOutcome{Outcome: m.DefaultOutcome}
		if o.Outcome == domain.OutcomeDeclined {
			o.Reason = "mock decline"
		}
	}
	if o.Currency == "" {
		o.Amount, o.Currency = s.Amount, s.Currency
	}
	m.logger.InfoContext(ctx, "MockPaymentGatewayAdapter: ConfirmOutcome", "session_id", s.ID, "outcome", o.Outcome)
	return &o, nil
}

// ParseCallback expects {"cartid","status","message"} signed like the hosted page gateway.
func (m *MockPaymentGatewayAdapter) ParseCallback(ctx context.Context, raw []byte, signature string) (*domain.CallbackEvent, error) {
	if !verifyHMAC(m.webhookSecret, raw, signature) {
		m.logger.WarnContext(ctx, "Mock webhook signature verification failed")
		return nil, domain.ErrInvalidSignature
	}
	var cb hostedCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("decoding mock callback: %w", err)
	}
	claimed, ok := domain.ParseOutcome(cb.Status)
	if !ok {
		claimed = domain.OutcomePending
	}
	return &domain.CallbackEvent{SessionID: cb.CartID, Claimed: claimed, Message: cb.Message}, nil
}
