package thresholds

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/retifica-erp/retifica/internal/platform/httpx"
	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
)

// Handler exposes threshold configuration over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, rbac: rbac}
}

// MountRoutes registers threshold routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermThresholdView, shared.PermThresholdManage))
		r.Get("/", h.list)
		r.Get("/resolve", h.resolve)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermThresholdManage))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.remove)
	})
}

type resolveResponse struct {
	Value     decimal.Decimal `json:"value"`
	Type      ApprovalType    `json:"approval_type"`
	Fallback  bool            `json:"fallback"`
	Threshold *Threshold      `json:"threshold,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	items, err := h.service.List(r.Context(), actor.OrgID, includeInactive)
	if err != nil {
		h.fail(w, "list thresholds", err)
		return
	}
	if items == nil {
		items = []Threshold{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"thresholds": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	value, err := decimal.NewFromString(r.URL.Query().Get("value"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("value", "must be a decimal number"))
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	res, err := h.resolver.Resolve(r.Context(), actor.OrgID, value)
	if err != nil {
		h.fail(w, "resolve threshold", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resolveResponse{Value: value, Type: res.Type, Fallback: res.Fallback, Threshold: res.Threshold})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input.OrgID = actor.OrgID
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create threshold", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	current, ok := h.owned(w, r)
	if !ok {
		return
	}
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	input.OrgID = current.OrgID
	updated, err := h.service.Update(r.Context(), current.ID, input)
	if err != nil {
		h.fail(w, "update threshold", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	current, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), current.ID); err != nil {
		h.fail(w, "remove threshold", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned loads the threshold named in the path and hides thresholds of other
// organizations.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (Threshold, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return Threshold{}, false
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get threshold", err)
		return Threshold{}, false
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if t.OrgID != actor.OrgID {
		httpx.RespondError(w, ErrNotFound)
		return Threshold{}, false
	}
	return t, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
