package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lumapay/lumapay/internal/anticipation"
	"github.com/lumapay/lumapay/internal/auth"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/observability"
	"github.com/lumapay/lumapay/internal/payment"
	"github.com/lumapay/lumapay/internal/release"
	"github.com/lumapay/lumapay/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	AuthService         *auth.Service
	IdempotencyGuard    *shared.IdempotencyGuard
	PaymentHandler      *payment.Handler
	AnticipationHandler *anticipation.Handler
	ReleaseHandler      *release.Handler
	LedgerHandler       *ledger.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with Lumapay defaults. Side-effecting
// routes go through the idempotency guard; everything under /v1 requires
// resolved API credentials.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(params.AuthService))

		r.Group(func(r chi.Router) {
			r.Use(params.IdempotencyGuard.Middleware)
			r.Post("/payments", params.PaymentHandler.Confirm)
			r.Post("/payments/{externalID}/refund", params.PaymentHandler.Refund)
			r.Post("/anticipations", params.AnticipationHandler.Create)
		})

		r.Post("/anticipations/simulate", params.AnticipationHandler.Simulate)
		r.Get("/anticipations", params.AnticipationHandler.List)
		r.Get("/anticipations/{id}", params.AnticipationHandler.Get)
		r.Get("/releases", params.ReleaseHandler.List)
		r.Get("/releases/{id}", params.ReleaseHandler.Get)
		r.Get("/transactions", params.LedgerHandler.List)
	})

	return r
}
