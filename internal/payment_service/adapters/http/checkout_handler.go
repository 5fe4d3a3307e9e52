package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// CheckoutStarter is the part of app.CheckoutService used by the HTTP layer.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, userID, packageID string, buyer domain.Buyer) (*app.CheckoutResult, error)
	GetSession(ctx context.Context, userID, sessionID string) (*domain.PaymentSession, error)
}

type CheckoutHandler struct {
	checkout CheckoutStarter
	catalog  domain.PackageCatalog
	logger   *slog.Logger
	validate *validator.Validate
}

func NewCheckoutHandler(checkout CheckoutStarter, catalog domain.PackageCatalog, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		catalog:  catalog,
		logger:   logger.With("handler", "checkout"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *CheckoutHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var category domain.CreditCategory
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := domain.ParseCreditCategory(raw)
		if err != nil {
			h.logger.WarnContext(ctx, "Unknown package category", "category", raw)
			writeJSONError(w, "Unknown category", http.StatusBadRequest)
			return
		}
		category = c
	}

	pkgs, err := h.catalog.ListActive(ctx, category)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list packages", "error", err)
		writeError(w, err)
		return
	}

	resp := ListPackagesResponse{Packages: make([]PackageResponse, 0, len(pkgs))}
	for _, p := range pkgs {
		resp.Packages = append(resp.Packages, PackageResponse{
			ID:           p.ID,
			Name:         p.Name,
			Category:     p.Category,
			Credits:      p.Credits,
			BonusCredits: p.BonusCredits,
			TotalCredits: p.TotalCredits(),
			Price:        p.Price.StringFixed(2),
			Currency:     p.Currency,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := UserFromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "AuthenticatedUser not found in context for CreateSession")
		writeJSONError(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	var req CreateCheckoutSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for CreateSession", "error", err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for CreateSession", "error", err)
		writeJSONError(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	buyer := domain.Buyer{
		Email:     firstNonEmpty(req.Email, user.Email),
		FirstName: firstNonEmpty(req.FirstName, user.FirstName),
		LastName:  firstNonEmpty(req.LastName, user.LastName),
		Phone:     firstNonEmpty(req.Phone, user.Phone),
	}

	res, err := h.checkout.StartCheckout(ctx, user.ID, req.PackageID, buyer)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrGatewayRejected) {
			h.logger.WarnContext(ctx, "Checkout not started", "user_id", user.ID, "package_id", req.PackageID, "error", err)
		} else if !errors.Is(err, domain.ErrInvalidPackage) {
			h.logger.ErrorContext(ctx, "Checkout failed", "user_id", user.ID, "package_id", req.PackageID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateCheckoutSessionResponse{
		SessionID:   res.Session.ID,
		RedirectURL: res.RedirectURL,
		Status:      res.Session.Status,
	})
}

func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := UserFromContext(ctx)
	if !ok {
		writeJSONError(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	s, err := h.checkout.GetSession(ctx, user.ID, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			h.logger.ErrorContext(ctx, "Failed to load session", "session_id", sessionID, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
