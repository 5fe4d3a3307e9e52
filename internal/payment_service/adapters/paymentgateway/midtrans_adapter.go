package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// snapAPI and coreAPI are the parts of the Midtrans clients the adapter uses.
type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// MidtransAdapter uses Snap for the hosted page and the Core API status endpoint
// as the authoritative source. The Midtrans order id is the session id.
type MidtransAdapter struct {
	snap      snapAPI
	core      coreAPI
	serverKey string
	logger    *slog.Logger
}

func NewMidtransAdapter(serverKey string, production bool, logger *slog.Logger) *MidtransAdapter {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	var s snap.Client
	s.New(serverKey, env)
	var c coreapi.Client
	c.New(serverKey, env)
	return newMidtransAdapter(&s, &c, serverKey, logger)
}

func newMidtransAdapter(s snapAPI, c coreAPI, serverKey string, logger *slog.Logger) *MidtransAdapter {
	return &MidtransAdapter{
		snap:      s,
		core:      c,
		serverKey: serverKey,
		logger:    logger.With("adapter", "midtrans"),
	}
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusMessage     string `json:"status_message"`
}

func (a *MidtransAdapter) Name() string {
	return "midtrans"
}

func (a *MidtransAdapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	_, span := otel.Tracer("payment-service").Start(ctx, "MidtransAdapter.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	// Midtrans settles in whole rupiah.
	if req.Currency != "IDR" || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, fmt.Errorf("%w: midtrans requires whole IDR amounts, got %s %s",
			domain.ErrGatewayRejected, req.Amount.String(), req.Currency)
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.SessionID,
			GrossAmt: req.Amount.IntPart(),
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Buyer.FirstName,
			LName: req.Buyer.LastName,
			Email: req.Buyer.Email,
			Phone: req.Buyer.Phone,
		},
		Callbacks: &snap.Callbacks{Finish: req.Returns.Success},
	}

	resp, mErr := a.snap.CreateTransaction(snapReq)
	if mErr != nil {
		a.logger.WarnContext(ctx, "Midtrans snap transaction failed", "session_id", req.SessionID,
			"status_code", mErr.StatusCode, "message", mErr.Message)
		return nil, classifyMidtransError(mErr)
	}
	if resp == nil || resp.RedirectURL == "" {
		return nil, fmt.Errorf("%w: snap response missing redirect url", domain.ErrGatewayUnavailable)
	}

	a.logger.InfoContext(ctx, "Midtrans snap transaction created", "session_id", req.SessionID)
	return &domain.OrderResponse{OrderRef: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func (a *MidtransAdapter) ConfirmOutcome(ctx context.Context, s *domain.PaymentSession) (*domain.GatewayOutcome, error) {
	_, span := otel.Tracer("payment-service").Start(ctx, "MidtransAdapter.ConfirmOutcome")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	res, mErr := a.core.CheckTransaction(s.ID)
	if mErr != nil {
		if mErr.StatusCode == http.StatusNotFound {
			return &domain.GatewayOutcome{Outcome: domain.OutcomePending}, nil
		}
		return nil, classifyMidtransError(mErr)
	}
	// Midtrans reports some errors in the body with a 200 transport status.
	if res.StatusCode == "404" {
		return &domain.GatewayOutcome{Outcome: domain.OutcomePending}, nil
	}

	out := &domain.GatewayOutcome{
		Outcome:        midtransOutcome(res.TransactionStatus, res.FraudStatus),
		Currency:       strings.ToUpper(res.Currency),
		TransactionRef: res.TransactionID,
	}
	if out.Currency == "" {
		out.Currency = "IDR"
	}
	if res.GrossAmount != "" {
		amt, err := decimal.NewFromString(res.GrossAmount)
		if err != nil {
			return nil, fmt.Errorf("parsing midtrans gross amount %q: %w", res.GrossAmount, err)
		}
		out.Amount = amt
	}
	if out.Outcome == domain.OutcomeDeclined {
		out.Reason = res.StatusMessage
	}
	span.SetAttributes(attribute.String("gateway.outcome", string(out.Outcome)))
	return out, nil
}

func (a *MidtransAdapter) ParseCallback(ctx context.Context, raw []byte, _ string) (*domain.CallbackEvent, error) {
	var n midtransNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decoding midtrans notification: %w", err)
	}
	expected := midtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, a.serverKey)
	if n.SignatureKey == "" || !strings.EqualFold(expected, n.SignatureKey) {
		a.logger.WarnContext(ctx, "Midtrans notification signature mismatch", "order_id", n.OrderID)
		return nil, domain.ErrInvalidSignature
	}
	return &domain.CallbackEvent{
		SessionID: n.OrderID,
		Claimed:   midtransOutcome(n.TransactionStatus, n.FraudStatus),
		Message:   n.StatusMessage,
	}, nil
}

func midtransOutcome(transactionStatus, fraudStatus string) domain.Outcome {
	switch transactionStatus {
	case "settlement":
		return domain.OutcomeSucceeded
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return domain.OutcomeSucceeded
		}
		return domain.OutcomePending
	case "deny", "failure", "refund", "partial_refund", "chargeback":
		return domain.OutcomeDeclined
	case "cancel":
		return domain.OutcomeCancelled
	case "expire":
		return domain.OutcomeExpired
	default:
		return domain.OutcomePending
	}
}

func classifyMidtransError(e *midtrans.Error) error {
	if e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return fmt.Errorf("%w: midtrans: %s", domain.ErrGatewayUnavailable, e.Message)
	}
	return fmt.Errorf("%w: midtrans: %s", domain.ErrGatewayRejected, e.Message)
}
