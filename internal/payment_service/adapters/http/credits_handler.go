package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// CreditsReader is the part of app.CreditsService used by the HTTP layer.
type CreditsReader interface {
	Balance(ctx context.Context, userID string) (*domain.UserCreditBalance, error)
	Entries(ctx context.Context, userID string, limit, offset int) ([]domain.CreditLedgerEntry, error)
}

type CreditsHandler struct {
	credits CreditsReader
	logger  *slog.Logger
}

func NewCreditsHandler(credits CreditsReader, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{credits: credits, logger: logger.With("handler", "credits")}
}

func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFromContext(ctx)
	if !ok {
		writeJSONError(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	b, err := h.credits.Balance(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load balance", "user_id", user.ID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		SparePartsCredits: b.SparePartsCredits,
		AutomotiveCredits: b.AutomotiveCredits,
	})
}

func (h *CreditsHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFromContext(ctx)
	if !ok {
		writeJSONError(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeJSONError(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	entries, err := h.credits.Entries(ctx, user.ID, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list ledger entries", "user_id", user.ID, "error", err)
		writeError(w, err)
		return
	}

	resp := LedgerResponse{Entries: make([]LedgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, LedgerEntryResponse{
			ID:             e.ID,
			SessionID:      e.SessionID,
			Category:       e.Category,
			CreditsGranted: e.CreditsGranted,
			AmountPaid:     e.AmountPaid.StringFixed(2),
			Currency:       e.Currency,
			CreatedAt:      e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
