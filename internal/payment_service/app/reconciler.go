package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/platform/messagebroker"
)

const tracerName = "payment-service"

const (
	msgSucceeded       = "Payment successful. Your credits have been added to your account."
	msgDeclined        = "Your payment was declined. You have not been charged."
	msgCancelled       = "Payment was cancelled. You have not been charged."
	msgExpired         = "This payment session has expired. Please start a new purchase."
	msgPending         = "We are still confirming your payment with the payment provider. Please check back in a few minutes."
	msgContactSupport  = "We could not confirm this payment automatically. Please contact support and quote your payment reference."
	msgSessionNotFound = "We could not find this payment. If you were charged, please contact support."
	msgGenericFailure  = "Something went wrong while confirming your payment. Please try again shortly."
)

// ReconcileResult is what the client displays after a return from the gateway.
// Credit balances are only present for succeeded sessions and are the balances
// recorded when the credits were granted, so every replay reports the same numbers.
type ReconcileResult struct {
	Success           bool                 `json:"success"`
	SessionID         string               `json:"sessionId,omitempty"`
	Status            domain.SessionStatus `json:"status"`
	Message           string               `json:"message"`
	SparePartsCredits *int                 `json:"sparePartsCredits,omitempty"`
	AutomotiveCredits *int                 `json:"automotiveCredits,omitempty"`
	Reason            string               `json:"reason,omitempty"`
}

// ResultForError builds the user-facing payload for a reconciliation that did not
// reach a terminal answer. It never carries credit numbers.
func ResultForError(sessionID string, err error) *ReconcileResult {
	res := &ReconcileResult{SessionID: sessionID, Status: domain.SessionStatusPending}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		res.SessionID = ""
		res.Status = ""
		res.Message = msgSessionNotFound
	case errors.Is(err, domain.ErrAmountMismatch):
		res.Message = msgContactSupport
	case errors.Is(err, domain.ErrVerificationPending):
		res.Message = msgPending
	default:
		res.Message = msgGenericFailure
	}
	return res
}

// ReconcilerConfig controls the authoritative status check.
type ReconcilerConfig struct {
	Retry RetryPolicy
}

// Reconciler drives payment sessions to a terminal state and credits exactly once.
type Reconciler struct {
	sessions    domain.SessionRepository
	ledger      domain.CreditLedger
	fulfillment domain.FulfillmentStore
	gateway     domain.GatewayAdapter
	events      eventPublisher
	cfg         ReconcilerConfig
	logger      *slog.Logger
}

func NewReconciler(
	sessions domain.SessionRepository,
	ledger domain.CreditLedger,
	fulfillment domain.FulfillmentStore,
	gateway domain.GatewayAdapter,
	publisher messagebroker.Publisher,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	l := logger.With("component", "reconciler")
	return &Reconciler{
		sessions:    sessions,
		ledger:      ledger,
		fulfillment: fulfillment,
		gateway:     gateway,
		events:      eventPublisher{pub: publisher, logger: l},
		cfg:         cfg,
		logger:      l,
	}
}

// Reconcile resolves sessionID. claimed is the outcome suggested by the return path or
// callback and is only used for diagnostics; the gateway's answer always decides.
//
// Errors: ErrSessionNotFound, ErrVerificationPending (session left pending) and
// ErrAmountMismatch (session left pending, needs manual review).
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, claimed domain.Outcome) (*ReconcileResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("outcome.claimed", string(claimed)))

	res, err := r.reconcile(ctx, sessionID, claimed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reconcileResultsCounter.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("session.status", string(res.Status)))
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, sessionID string, claimed domain.Outcome) (*ReconcileResult, error) {
	s, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			r.logger.WarnContext(ctx, "Reconcile for unknown session", "session_id", sessionID)
			return nil, err
		}
		return nil, fmt.Errorf("loading payment session: %w", err)
	}

	if s.Status.IsTerminal() {
		return r.replay(ctx, s)
	}

	out, err := r.confirmOutcome(ctx, s)
	if err != nil {
		r.logger.WarnContext(ctx, "Gateway outcome unavailable, session stays pending", "session_id", s.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationPending, err)
	}

	if claimed != "" && claimed != out.Outcome {
		r.logger.WarnContext(ctx, "Claimed outcome differs from gateway outcome",
			"session_id", s.ID, "claimed", claimed, "confirmed", out.Outcome)
		outcomeDisagreementsCounter.WithLabelValues(string(claimed), string(out.Outcome)).Inc()
	}

	return r.resolve(ctx, s, out)
}

// HandleGatewayCallback verifies a server-to-server notification and reconciles the
// session it names.
func (r *Reconciler) HandleGatewayCallback(ctx context.Context, raw []byte, signature string) (*ReconcileResult, error) {
	ev, err := r.gateway.ParseCallback(ctx, raw, signature)
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "Gateway callback received", "session_id", ev.SessionID, "claimed", ev.Claimed)
	if ev.SessionID == "" {
		return nil, domain.ErrSessionNotFound
	}
	return r.Reconcile(ctx, ev.SessionID, ev.Claimed)
}

func (r *Reconciler) confirmOutcome(ctx context.Context, s *domain.PaymentSession) (*domain.GatewayOutcome, error) {
	return callGateway(ctx, r.cfg.Retry, r.logger, r.gateway.Name(), "confirm_outcome",
		func(callCtx context.Context) (*domain.GatewayOutcome, error) {
			return r.gateway.ConfirmOutcome(callCtx, s)
		})
}

// resolve applies an authoritative gateway outcome to a pending session.
func (r *Reconciler) resolve(ctx context.Context, s *domain.PaymentSession, out *domain.GatewayOutcome) (*ReconcileResult, error) {
	status, terminal := out.Outcome.Status()
	if !terminal {
		return nil, domain.ErrVerificationPending
	}

	if status == domain.SessionStatusSucceeded {
		if err := checkAuthorisedAmount(s, out); err != nil {
			r.logger.ErrorContext(ctx, "Gateway authorised amount does not match session, manual review required",
				"session_id", s.ID, "expected_amount", s.Amount.String(), "expected_currency", s.Currency,
				"authorised_amount", out.Amount.String(), "authorised_currency", out.Currency,
				"transaction_ref", out.TransactionRef)
			return nil, err
		}

		updated, entry, won, err := r.fulfillment.CompleteSuccess(ctx, s.ID, domain.GrantFromSession(s))
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to complete successful payment", "session_id", s.ID, "error", err)
			return nil, fmt.Errorf("crediting payment session: %w", err)
		}
		if !won {
			return r.replay(ctx, updated)
		}
		r.logger.InfoContext(ctx, "Payment session succeeded and credits granted",
			"session_id", s.ID, "user_id", s.UserID, "category", entry.Category, "credits", entry.CreditsGranted,
			"transaction_ref", out.TransactionRef)
		creditsGrantedCounter.WithLabelValues(string(entry.Category)).Add(float64(entry.CreditsGranted))
		reconcileResultsCounter.WithLabelValues(string(status)).Inc()
		r.events.sessionResolved(ctx, updated, entry.CreditsGranted)
		return successResult(updated, entry), nil
	}

	reason := out.Reason
	if status == domain.SessionStatusDeclined && reason == "" {
		reason = "payment declined by the payment provider"
	}
	updated, won, err := r.sessions.TransitionTerminal(ctx, s.ID, status, reason)
	if err != nil {
		return nil, fmt.Errorf("resolving payment session: %w", err)
	}
	if !won {
		return r.replay(ctx, updated)
	}
	r.logger.InfoContext(ctx, "Payment session resolved", "session_id", s.ID, "status", status, "reason", reason)
	reconcileResultsCounter.WithLabelValues(string(status)).Inc()
	r.events.sessionResolved(ctx, updated, 0)
	return terminalResult(updated), nil
}

// replay rebuilds the stored result of a terminal session. A succeeded session whose
// ledger entry is missing gets its grant applied now.
func (r *Reconciler) replay(ctx context.Context, s *domain.PaymentSession) (*ReconcileResult, error) {
	reconcileResultsCounter.WithLabelValues("replayed").Inc()
	if s.Status != domain.SessionStatusSucceeded {
		return terminalResult(s), nil
	}

	entry, err := r.ledger.EntryForSession(ctx, s.ID)
	if errors.Is(err, domain.ErrLedgerEntryNotFound) {
		r.logger.WarnContext(ctx, "Succeeded session has no ledger entry, granting credits", "session_id", s.ID)
		var granted bool
		entry, granted, err = r.ledger.Grant(ctx, domain.GrantFromSession(s))
		if err == nil && granted {
			creditsGrantedCounter.WithLabelValues(string(entry.Category)).Add(float64(entry.CreditsGranted))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading ledger entry: %w", err)
	}
	return successResult(s, entry), nil
}

// checkAuthorisedAmount rejects a success whose authorised amount or currency differ
// from the session snapshot.
func checkAuthorisedAmount(s *domain.PaymentSession, out *domain.GatewayOutcome) error {
	if out.Currency == "" || !strings.EqualFold(out.Currency, s.Currency) || !out.Amount.Equal(s.Amount) {
		return fmt.Errorf("%w: expected %s %s, gateway authorised %s %s",
			domain.ErrAmountMismatch, s.Amount.String(), s.Currency, out.Amount.String(), out.Currency)
	}
	return nil
}

func successResult(s *domain.PaymentSession, entry *domain.CreditLedgerEntry) *ReconcileResult {
	spare, auto := entry.SparePartsBalanceAfter, entry.AutomotiveBalanceAfter
	return &ReconcileResult{
		Success:           true,
		SessionID:         s.ID,
		Status:            s.Status,
		Message:           msgSucceeded,
		SparePartsCredits: &spare,
		AutomotiveCredits: &auto,
	}
}

func terminalResult(s *domain.PaymentSession) *ReconcileResult {
	res := &ReconcileResult{SessionID: s.ID, Status: s.Status, Reason: s.Reason()}
	switch s.Status {
	case domain.SessionStatusDeclined:
		res.Message = msgDeclined
	case domain.SessionStatusCancelled:
		res.Message = msgCancelled
	case domain.SessionStatusExpired:
		res.Message = msgExpired
	default:
		res.Message = msgPending
	}
	return res
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrVerificationPending):
		return "verification_pending"
	default:
		return "error"
	}
}
