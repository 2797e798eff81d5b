package payment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumapay/lumapay/internal/platform/httpx"
	"github.com/lumapay/lumapay/internal/shared"
)

// Handler exposes the payment ingestion API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type confirmRequest struct {
	ExternalID    string `json:"external_id" validate:"required,max=120"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	AmountFee     int64  `json:"amount_fee" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Method        string `json:"method" validate:"required"`
	ProviderName  string `json:"provider_name" validate:"required"`
	Installments  int    `json:"installments" validate:"gte=0,lte=24"`
	Anticipatable bool   `json:"anticipatable"`
}

// Confirm ingests one upstream payment confirmation.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	if !identity.Permissions.Payments {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "key lacks payments permission")
		return
	}

	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if req.AmountFee > req.Amount {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "fee cannot exceed amount")
		return
	}

	result, err := h.service.Confirm(r.Context(), ConfirmRequest{
		ExternalID:    req.ExternalID,
		CompanyID:     identity.CompanyID,
		Amount:        req.Amount,
		AmountFee:     req.AmountFee,
		Currency:      req.Currency,
		Method:        req.Method,
		ProviderName:  req.ProviderName,
		Installments:  req.Installments,
		Anticipatable: req.Anticipatable,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"payment":           result.Payment,
		"ledger_inserted":   result.Ledger.Inserted,
		"ledger_duplicates": result.Ledger.Skipped,
		"schedules_created": result.Schedules,
	})
}

// Refund reverses a confirmed payment.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	if !identity.Permissions.Refunds {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "key lacks refunds permission")
		return
	}

	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "external id required")
		return
	}

	result, err := h.service.Refund(r.Context(), identity.CompanyID, externalID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"payment":             result.Payment,
		"schedules_cancelled": result.Schedules,
		"ledger_inserted":     result.Ledger.Inserted,
		"ledger_duplicates":   result.Ledger.Skipped,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDuplicateExternalID):
		httpx.Problem(w, http.StatusConflict, "Duplicate Payment", err.Error())
	case errors.Is(err, ErrNotRefundable):
		httpx.Problem(w, http.StatusConflict, "Not Refundable", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("payment request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
