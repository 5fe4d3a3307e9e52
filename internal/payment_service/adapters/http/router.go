// Package http exposes the payment service over HTTP: the checkout and credits API for
// clients, the gateway return pages and the gateway webhook.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Checkout  *CheckoutHandler
	Reconcile *ReconcileHandler
	Credits   *CreditsHandler
	JWTSecret string
	Logger    *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/payment/return/{outcome}", d.Reconcile.Return)
	r.Post("/webhooks/payments", d.Reconcile.Webhook)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/packages", d.Checkout.ListPackages)
		r.Post("/payments/reconcile", d.Reconcile.Reconcile)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.JWTSecret, d.Logger))
			r.Post("/checkout/sessions", d.Checkout.CreateSession)
			r.Get("/checkout/sessions/{sessionID}", d.Checkout.GetSession)
			r.Get("/credits/balance", d.Credits.Balance)
			r.Get("/credits/ledger", d.Credits.Ledger)
		})
	})

	return r
}
