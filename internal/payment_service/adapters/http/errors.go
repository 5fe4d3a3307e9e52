package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// GenericErrorResponse is the body of every non-2xx JSON response.
type GenericErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, GenericErrorResponse{Error: message})
}

// statusFor maps domain errors to HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPackage), errors.Is(err, domain.ErrPackageNotFound):
		return http.StatusBadRequest, "Invalid or inactive package"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "Payment session not found"
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusUnprocessableEntity, "We could not process this payment"
	case errors.Is(err, domain.ErrVerificationPending), errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusAccepted, "Payment verification pending"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "Payment provider is temporarily unavailable"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeJSONError(w, msg, status)
}
