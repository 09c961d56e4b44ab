package conditional

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/retifica-erp/retifica/internal/platform/httpx"
	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
)

// Handler exposes conditional order deadlines over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers conditional order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermConditionalView, shared.PermConditionalExtend))
		r.Get("/{id}", h.get)
		r.Get("/{id}/extensions", h.listExtensions)
	})
	r.With(h.rbac.RequireAll(shared.PermConditionalExtend)).Post("/{id}/extensions", h.extend)
}

// ExtendRequest is the body of a deadline extension.
type ExtendRequest struct {
	DaysAdded     int    `json:"days_added"`
	Justification string `json:"justification"`
}

type orderResponse struct {
	Order     Order `json:"order"`
	CanExtend bool  `json:"can_extend"`
	MaxDays   int   `json:"max_days,omitempty"`
	Remaining int   `json:"remaining_extensions"`
}

type extendResponse struct {
	Order     Order     `json:"order"`
	Extension Extension `json:"extension"`
}

func newOrderResponse(o Order) orderResponse {
	maxDays, ok := MaxDaysFor(o.ExtensionCount)
	remaining := MaxExtensions - o.ExtensionCount
	if remaining < 0 {
		remaining = 0
	}
	return orderResponse{Order: o, CanExtend: ok && o.Status == StatusOpen, MaxDays: maxDays, Remaining: remaining}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "get conditional order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) listExtensions(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	items, err := h.service.Extensions(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "list extensions", err)
		return
	}
	if items == nil {
		items = []Extension{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"extensions": items})
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req ExtendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	order, ext, err := h.service.Extend(r.Context(), id, req.DaysAdded, req.Justification, actor)
	if err != nil {
		h.fail(w, "extend conditional order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, extendResponse{Order: order, Extension: ext})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (int64, shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return 0, shared.Actor{}, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return 0, shared.Actor{}, false
	}
	return id, actor, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
