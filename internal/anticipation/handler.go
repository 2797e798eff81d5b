package anticipation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumapay/lumapay/internal/platform/httpx"
	"github.com/lumapay/lumapay/internal/release"
	"github.com/lumapay/lumapay/internal/shared"
)

// Handler exposes the anticipation API.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type anticipationRequest struct {
	Type     string `json:"type" validate:"required,oneof=INSTALLMENT RESERVE_RELEASE PENDING_TO_AVAILABLE"`
	Currency string `json:"currency" validate:"required,len=3"`
}

// Simulate prices the caller's eligible schedules.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	req, identity, ok := h.decode(w, r)
	if !ok {
		return
	}
	quote, err := h.engine.Simulate(r.Context(), Request{
		CompanyID: identity.CompanyID,
		Type:      release.ScheduleType(req.Type),
		Currency:  req.Currency,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

// Create confirms a simulation into a pending anticipation.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, identity, ok := h.decode(w, r)
	if !ok {
		return
	}
	if !identity.Permissions.Anticipations {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "key lacks anticipations permission")
		return
	}
	a, err := h.engine.Confirm(r.Context(), Request{
		CompanyID: identity.CompanyID,
		Type:      release.ScheduleType(req.Type),
		Currency:  req.Currency,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

// Get returns one anticipation owned by the caller.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	a, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if a.CompanyID != identity.CompanyID {
		h.respondError(w, ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

// List returns the caller's anticipations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.engine.List(r.Context(), identity.CompanyID, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"anticipations": list})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (anticipationRequest, shared.Identity, bool) {
	var req anticipationRequest
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return req, identity, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return req, identity, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return req, identity, false
	}
	return req, identity, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPendingExists):
		httpx.Problem(w, http.StatusConflict, "Anticipation Pending", err.Error())
	case errors.Is(err, ErrNoEligibleSchedules), errors.Is(err, ErrBelowMinimum):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("anticipation request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
