package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/payment_service/redirect"
)

const (
	MaxRequestBodySize     = 1 << 20
	PaymentSignatureHeader = "X-Payment-Signature"
)

// PaymentReconciler is the part of app.Reconciler used by the HTTP layer.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, sessionID string, claimed domain.Outcome) (*app.ReconcileResult, error)
	HandleGatewayCallback(ctx context.Context, raw []byte, signature string) (*app.ReconcileResult, error)
}

type ReconcileHandler struct {
	reconciler PaymentReconciler
	renderer   *redirect.Renderer
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewReconcileHandler(reconciler PaymentReconciler, renderer *redirect.Renderer, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconciler: reconciler,
		renderer:   renderer,
		logger:     logger.With("handler", "reconcile"),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Reconcile serves POST /v1/payments/reconcile. Non-terminal answers still carry a
// result body so clients can show the message.
func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for Reconcile", "error", err)
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for Reconcile", "error", err)
		writeJSONError(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	var claimed domain.Outcome
	if req.ClaimedOutcome != "" {
		claimed, _ = domain.ParseOutcome(req.ClaimedOutcome)
	}

	status, res := h.reconcile(ctx, req.SessionID, claimed)
	writeJSON(w, status, res)
}

// Return serves GET /payment/return/{outcome}, the landing page for gateway redirects.
// The outcome segment is only a hint; the result shown comes from reconciliation.
func (h *ReconcileHandler) Return(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claimed, ok := returnOutcome(chi.URLParam(r, "outcome"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")

	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	var (
		status int
		res    *app.ReconcileResult
	)
	if sessionID == "" {
		h.logger.WarnContext(ctx, "Return without session id", "outcome", claimed)
		res = app.ResultForError("", domain.ErrSessionNotFound)
		status = http.StatusNotFound
	} else {
		status, res = h.reconcile(ctx, sessionID, claimed)
	}

	if wantsJSON(r) {
		writeJSON(w, status, res)
		return
	}

	cc := redirect.DetectContext(r.UserAgent(), r.URL.Query())
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, h.renderer.Page(res, cc)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to render return page", "session_id", sessionID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Webhook serves POST /webhooks/payments. Notifications we cannot resolve yet are still
// acknowledged; the housekeeping sweep picks the session up later.
func (h *ReconcileHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to read payment webhook body", "error", err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(PaymentSignatureHeader)
	res, err := h.reconciler.HandleGatewayCallback(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			h.logger.WarnContext(ctx, "Payment webhook rejected", "error", err)
			writeJSONError(w, "Invalid signature", http.StatusBadRequest)
		case errors.Is(err, domain.ErrSessionNotFound):
			h.logger.WarnContext(ctx, "Payment webhook for unknown session")
			writeJSONError(w, "Payment session not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrVerificationPending), errors.Is(err, domain.ErrAmountMismatch):
			h.logger.WarnContext(ctx, "Payment webhook acknowledged without resolution", "error", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		default:
			h.logger.ErrorContext(ctx, "Failed to process payment webhook", "error", err)
			writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.logger.InfoContext(ctx, "Payment webhook processed", "session_id", res.SessionID, "status", res.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *ReconcileHandler) reconcile(ctx context.Context, sessionID string, claimed domain.Outcome) (int, *app.ReconcileResult) {
	res, err := h.reconciler.Reconcile(ctx, sessionID, claimed)
	if err == nil {
		return http.StatusOK, res
	}
	status, _ := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "Reconciliation failed", "session_id", sessionID, "error", err)
	}
	return status, app.ResultForError(sessionID, err)
}

// returnOutcome accepts the three return paths handed to the gateway.
func returnOutcome(segment string) (domain.Outcome, bool) {
	switch segment {
	case "success", "declined", "cancelled":
		return domain.ParseOutcome(segment)
	}
	return "", false
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}
