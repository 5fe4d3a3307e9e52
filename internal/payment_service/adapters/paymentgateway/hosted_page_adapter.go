package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// Order status codes reported by the hosted page "check" method.
const (
	hostedStatusPending    = 1
	hostedStatusAuthorised = 2
	hostedStatusPaid       = 3
	hostedStatusExpired    = -1
	hostedStatusCancelled  = -2
	hostedStatusDeclined   = -3
)

type HostedPageConfig struct {
	APIURL        string
	StoreID       string
	AuthKey       string
	TestMode      bool
	WebhookSecret string
	Timeout       time.Duration
}

// HostedPageAdapter talks to a hosted payment page provider over its JSON order API.
// Orders are created with method "create" and queried with method "check".
type HostedPageAdapter struct {
	client *resty.Client
	cfg    HostedPageConfig
	logger *slog.Logger
}

func NewHostedPageAdapter(cfg HostedPageConfig, logger *slog.Logger, httpClient *http.Client) *HostedPageAdapter {
	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client.SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HostedPageAdapter{
		client: client,
		cfg:    cfg,
		logger: logger.With("adapter", "hosted_page"),
	}
}

type hostedRequest struct {
	Method   string          `json:"method"`
	Store    string          `json:"store"`
	AuthKey  string          `json:"authkey"`
	Order    hostedOrder     `json:"order"`
	Customer *hostedCustomer `json:"customer,omitempty"`
	Return   *hostedReturn   `json:"return,omitempty"`
}

type hostedOrder struct {
	Ref         string `json:"ref,omitempty"`
	CartID      string `json:"cartid,omitempty"`
	Test        string `json:"test,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

type hostedCustomer struct {
	Ref   string     `json:"ref"`
	Email string     `json:"email,omitempty"`
	Name  hostedName `json:"name"`
	Phone string     `json:"phone,omitempty"`
}

type hostedName struct {
	Forenames string `json:"forenames,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

type hostedReturn struct {
	Authorised string `json:"authorised"`
	Declined   string `json:"declined"`
	Cancelled  string `json:"cancelled"`
}

type hostedResponse struct {
	Order *hostedOrderResult `json:"order"`
	Error *hostedError       `json:"error"`
}

type hostedOrderResult struct {
	Ref         string             `json:"ref"`
	URL         string             `json:"url"`
	CartID      string             `json:"cartid"`
	Amount      string             `json:"amount"`
	Currency    string             `json:"currency"`
	Status      *hostedStatus      `json:"status"`
	Transaction *hostedTransaction `json:"transaction"`
}

type hostedStatus struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

type hostedTransaction struct {
	Ref     string `json:"ref"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type hostedError struct {
	Message string `json:"message"`
	Note    string `json:"note"`
}

// hostedCallback is the server-to-server notification body.
type hostedCallback struct {
	CartID  string `json:"cartid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (a *HostedPageAdapter) Name() string {
	return "hosted"
}

func (a *HostedPageAdapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "HostedPageAdapter.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	body := hostedRequest{
		Method:  "create",
		Store:   a.cfg.StoreID,
		AuthKey: a.cfg.AuthKey,
		Order: hostedOrder{
			CartID:      req.SessionID,
			Test:        a.testFlag(),
			Amount:      req.Amount.StringFixed(2),
			Currency:    req.Currency,
			Description: req.Description,
		},
		Customer: &hostedCustomer{
			Ref:   req.UserID,
			Email: req.Buyer.Email,
			Name:  hostedName{Forenames: req.Buyer.FirstName, Surname: req.Buyer.LastName},
			Phone: req.Buyer.Phone,
		},
		Return: &hostedReturn{
			Authorised: req.Returns.Success,
			Declined:   req.Returns.Declined,
			Cancelled:  req.Returns.Cancelled,
		},
	}

	res, err := a.call(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}
	if res.Order == nil || res.Order.Ref == "" || res.Order.URL == "" {
		return nil, fmt.Errorf("%w: create response missing order ref or url", domain.ErrGatewayUnavailable)
	}

	a.logger.InfoContext(ctx, "Hosted page order created", "session_id", req.SessionID, "order_ref", res.Order.Ref)
	return &domain.OrderResponse{OrderRef: res.Order.Ref, RedirectURL: res.Order.URL}, nil
}

func (a *HostedPageAdapter) ConfirmOutcome(ctx context.Context, s *domain.PaymentSession) (*domain.GatewayOutcome, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "HostedPageAdapter.ConfirmOutcome")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	if s.GatewayOrderRef == nil || *s.GatewayOrderRef == "" {
		// No order was ever placed, so nothing can have been paid.
		return &domain.GatewayOutcome{Outcome: domain.OutcomePending}, nil
	}

	res, err := a.call(ctx, hostedRequest{
		Method:  "check",
		Store:   a.cfg.StoreID,
		AuthKey: a.cfg.AuthKey,
		Order:   hostedOrder{Ref: *s.GatewayOrderRef},
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res.Order == nil || res.Order.Status == nil {
		return nil, fmt.Errorf("%w: check response missing order status", domain.ErrGatewayUnavailable)
	}
	if res.Order.CartID != "" && res.Order.CartID != s.ID {
		return nil, fmt.Errorf("hosted page order %s belongs to cart %q, not session %s", res.Order.Ref, res.Order.CartID, s.ID)
	}

	out := &domain.GatewayOutcome{Currency: strings.ToUpper(res.Order.Currency)}
	if res.Order.Amount != "" {
		if out.Amount, err = decimal.NewFromString(res.Order.Amount); err != nil {
			return nil, fmt.Errorf("parsing hosted page amount %q: %w", res.Order.Amount, err)
		}
	}
	if tx := res.Order.Transaction; tx != nil {
		out.TransactionRef = tx.Ref
		out.Reason = tx.Message
	}

	switch res.Order.Status.Code {
	case hostedStatusAuthorised, hostedStatusPaid:
		out.Outcome = domain.OutcomeSucceeded
		out.Reason = ""
	case hostedStatusDeclined:
		out.Outcome = domain.OutcomeDeclined
		if out.Reason == "" {
			out.Reason = res.Order.Status.Text
		}
	case hostedStatusCancelled:
		out.Outcome = domain.OutcomeCancelled
	case hostedStatusExpired:
		out.Outcome = domain.OutcomeExpired
	case hostedStatusPending:
		out.Outcome = domain.OutcomePending
	default:
		a.logger.WarnContext(ctx, "Unknown hosted page status code; treating as pending",
			"session_id", s.ID, "code", res.Order.Status.Code, "text", res.Order.Status.Text)
		out.Outcome = domain.OutcomePending
	}
	span.SetAttributes(attribute.String("gateway.outcome", string(out.Outcome)))
	return out, nil
}

func (a *HostedPageAdapter) ParseCallback(ctx context.Context, raw []byte, signature string) (*domain.CallbackEvent, error) {
	if !verifyHMAC(a.cfg.WebhookSecret, raw, signature) {
		a.logger.WarnContext(ctx, "Hosted page callback signature mismatch", "payload_len", len(raw))
		return nil, domain.ErrInvalidSignature
	}
	var cb hostedCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("decoding hosted page callback: %w", err)
	}
	if cb.CartID == "" {
		return nil, errors.New("hosted page callback missing cartid")
	}
	claimed, ok := domain.ParseOutcome(strings.ToLower(cb.Status))
	if !ok {
		claimed = domain.OutcomePending
	}
	return &domain.CallbackEvent{SessionID: cb.CartID, Claimed: claimed, Message: cb.Message}, nil
}

func (a *HostedPageAdapter) testFlag() string {
	if a.cfg.TestMode {
		return "1"
	}
	return "0"
}

// call posts body and classifies failures: transport errors, 429 and 5xx are
// ErrGatewayUnavailable; other 4xx and error objects are ErrGatewayRejected.
func (a *HostedPageAdapter) call(ctx context.Context, body hostedRequest) (*hostedResponse, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(a.cfg.APIURL)
	if err != nil {
		a.logger.WarnContext(ctx, "Hosted page request failed", "method", body.Method, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, body.Method, err)
	}

	status := resp.StatusCode()
	a.logger.DebugContext(ctx, "Hosted page response", "method", body.Method, "status_code", status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrGatewayUnavailable, body.Method, status)
	}

	var out hostedResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		if status >= 400 {
			return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrGatewayRejected, body.Method, status)
		}
		return nil, fmt.Errorf("%w: undecodable %s response: %v", domain.ErrGatewayUnavailable, body.Method, err)
	}
	if status >= 400 || out.Error != nil {
		msg := fmt.Sprintf("status %d", status)
		if out.Error != nil {
			msg = strings.TrimSpace(out.Error.Message + " " + out.Error.Note)
		}
		a.logger.WarnContext(ctx, "Hosted page rejected request", "method", body.Method, "status_code", status, "message", msg)
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayRejected, msg)
	}
	return &out, nil
}
