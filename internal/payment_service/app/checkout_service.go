package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/platform/messagebroker"
)

// DeclineReasonGatewayRejected is stored on sessions whose order the gateway refused.
const DeclineReasonGatewayRejected = "payment could not be processed"

// CheckoutConfig holds what checkout needs beyond its collaborators.
type CheckoutConfig struct {
	// PublicBaseURL is the externally reachable origin the gateway redirects browsers back to.
	PublicBaseURL string
	Retry         RetryPolicy
}

// CheckoutResult is returned to the client so it can open the hosted payment page.
type CheckoutResult struct {
	Session     *domain.PaymentSession
	RedirectURL string
}

type CheckoutService struct {
	catalog  domain.PackageCatalog
	sessions domain.SessionRepository
	gateway  domain.GatewayAdapter
	events   eventPublisher
	cfg      CheckoutConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewCheckoutService(
	catalog domain.PackageCatalog,
	sessions domain.SessionRepository,
	gateway domain.GatewayAdapter,
	publisher messagebroker.Publisher,
	cfg CheckoutConfig,
	logger *slog.Logger,
) *CheckoutService {
	l := logger.With("component", "checkout")
	return &CheckoutService{
		catalog:  catalog,
		sessions: sessions,
		gateway:  gateway,
		events:   eventPublisher{pub: publisher, logger: l},
		cfg:      cfg,
		logger:   l,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession validates the package and persists a pending session that snapshots
// its price and credits. Unknown or inactive packages yield ErrInvalidPackage.
func (c *CheckoutService) CreateSession(ctx context.Context, userID, packageID string) (*domain.PaymentSession, error) {
	s, _, err := c.createSession(ctx, userID, packageID)
	return s, err
}

func (c *CheckoutService) createSession(ctx context.Context, userID, packageID string) (*domain.PaymentSession, *domain.PackageDefinition, error) {
	if userID == "" {
		return nil, nil, errors.New("user id is required")
	}
	pkg, err := c.catalog.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			return nil, nil, fmt.Errorf("%w: %q", domain.ErrInvalidPackage, packageID)
		}
		return nil, nil, fmt.Errorf("loading package: %w", err)
	}
	if !pkg.IsActive {
		return nil, nil, fmt.Errorf("%w: %q is not active", domain.ErrInvalidPackage, packageID)
	}

	now := c.now()
	s := &domain.PaymentSession{
		// uuid.New draws from crypto/rand; the id is the only secret in the return URL.
		ID:              uuid.NewString(),
		UserID:          userID,
		PackageID:       pkg.ID,
		Category:        pkg.Category,
		Credits:         pkg.TotalCredits(),
		Amount:          pkg.Price,
		Currency:        pkg.Currency,
		Status:          domain.SessionStatusPending,
		GatewayProvider: c.gateway.Name(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.sessions.Create(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("creating payment session: %w", err)
	}
	sessionsCreatedCounter.WithLabelValues(string(s.Category)).Inc()
	c.logger.InfoContext(ctx, "Payment session created", "session_id", s.ID, "user_id", userID, "package_id", pkg.ID,
		"amount", s.Amount.String(), "currency", s.Currency)
	return s, pkg, nil
}

// StartCheckout creates a session and submits the order to the gateway.
//
// A gateway rejection resolves the session as declined and returns ErrGatewayRejected.
// If the gateway stays unreachable the session is left pending for the sweeper and
// ErrGatewayUnavailable is returned.
func (c *CheckoutService) StartCheckout(ctx context.Context, userID, packageID string, buyer domain.Buyer) (*CheckoutResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CheckoutService.StartCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("package.id", packageID))

	s, pkg, err := c.createSession(ctx, userID, packageID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	pkgName := pkg.Name
	if pkgName == "" {
		pkgName = pkg.ID
	}

	req := domain.OrderRequest{
		SessionID:   s.ID,
		UserID:      userID,
		Amount:      s.Amount,
		Currency:    s.Currency,
		Description: fmt.Sprintf("%s (%d credits)", pkgName, s.Credits),
		Buyer:       buyer,
		Returns:     ReturnURLsFor(c.cfg.PublicBaseURL, s.ID),
	}

	provider := c.gateway.Name()
	resp, err := callGateway(ctx, c.cfg.Retry, c.logger, provider, "create_order",
		func(callCtx context.Context) (*domain.OrderResponse, error) {
			return c.gateway.CreateOrder(callCtx, req)
		})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrGatewayRejected) {
			checkoutResultsCounter.WithLabelValues(provider, "rejected").Inc()
			c.logger.WarnContext(ctx, "Gateway rejected order", "session_id", s.ID, "error", err)
			declined, won, tErr := c.sessions.TransitionTerminal(ctx, s.ID, domain.SessionStatusDeclined, DeclineReasonGatewayRejected)
			if tErr != nil {
				c.logger.ErrorContext(ctx, "Failed to decline rejected session", "session_id", s.ID, "error", tErr)
			} else if won {
				c.events.sessionResolved(ctx, declined, 0)
			}
			return nil, err
		}
		checkoutResultsCounter.WithLabelValues(provider, "unavailable").Inc()
		c.logger.ErrorContext(ctx, "Gateway order creation failed", "session_id", s.ID, "error", err)
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	if err := c.sessions.AttachGatewayOrder(ctx, s.ID, resp.OrderRef); err != nil {
		// The order exists at the gateway; reconciliation can still find it by session id.
		c.logger.ErrorContext(ctx, "Failed to record gateway order reference", "session_id", s.ID, "order_ref", resp.OrderRef, "error", err)
		return nil, fmt.Errorf("recording gateway order: %w", err)
	}
	ref := resp.OrderRef
	s.GatewayOrderRef = &ref

	checkoutResultsCounter.WithLabelValues(provider, "redirected").Inc()
	c.logger.InfoContext(ctx, "Gateway order created", "session_id", s.ID, "order_ref", resp.OrderRef)
	return &CheckoutResult{Session: s, RedirectURL: resp.RedirectURL}, nil
}

// GetSession returns the session if it belongs to userID. Sessions owned by someone
// else are reported as not found.
func (c *CheckoutService) GetSession(ctx context.Context, userID, sessionID string) (*domain.PaymentSession, error) {
	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// ReturnURLsFor builds the three gateway return URLs for a session.
func ReturnURLsFor(baseURL, sessionID string) domain.ReturnURLs {
	base := strings.TrimRight(baseURL, "/")
	build := func(outcome string) string {
		q := url.Values{}
		q.Set("session", sessionID)
		return base + "/payment/return/" + outcome + "?" + q.Encode()
	}
	return domain.ReturnURLs{
		Success:   build("success"),
		Declined:  build("declined"),
		Cancelled: build("cancelled"),
	}
}
