package release

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumapay/lumapay/internal/platform/httpx"
	"github.com/lumapay/lumapay/internal/shared"
)

// Handler exposes read access to release schedules.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// List returns the caller's schedules, optionally filtered by status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}

	status := ScheduleStatus(r.URL.Query().Get("status"))
	if status != "" && !KnownStatus(status) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Status", "unknown schedule status")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	schedules, err := h.service.List(r.Context(), identity.CompanyID, status, limit, offset)
	if err != nil {
		h.logger.Error("list schedules failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// Get returns one schedule owned by the caller.
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

	schedule, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("get schedule failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if schedule.CompanyID != identity.CompanyID {
		httpx.Problem(w, http.StatusNotFound, "Not Found", ErrNotFound.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, schedule)
}
