package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lumapay/lumapay/internal/platform/httpx"
	"github.com/lumapay/lumapay/internal/shared"
)

// Handler exposes read access to the ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// List returns the caller's visible ledger entries, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	if !identity.Permissions.Reports {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "key lacks reports permission")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.List(r.Context(), identity.CompanyID, limit, offset)
	if err != nil {
		h.logger.Error("list transactions failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": entries})
}
