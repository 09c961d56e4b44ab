package approvals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/retifica-erp/retifica/internal/platform/httpx"
	"github.com/retifica-erp/retifica/internal/rbac"
	"github.com/retifica-erp/retifica/internal/shared"
)

// Handler exposes order approval transitions over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers order approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermOrderView)).Get("/{id}", h.get)
	r.With(h.rbac.RequireAny(shared.PermOrderView)).Get("/{id}/history", h.history)
	r.With(h.rbac.RequireAll(shared.PermOrderSubmit)).Post("/{id}/submit", h.submit)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermOrderApprove))
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
	r.With(h.rbac.RequireAll(shared.PermOrderEscalate)).Post("/{id}/escalate", h.escalate)
	r.With(h.rbac.RequireAll(shared.PermOrderCancel)).Post("/{id}/cancel", h.cancel)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermOrderAdvance))
		r.Post("/{id}/send", h.send)
		r.Post("/{id}/confirm", h.confirm)
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id, actor)
	h.respond(w, "get order", order, err)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "order history", err)
		return
	}
	if events == nil {
		events = []HistoryEvent{}
	}
	httpx.JSON(w, http.StatusOK, HistoryResponse{OrderID: id, Events: events})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Submit(r.Context(), id, actor)
	h.respond(w, "submit order", order, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Approve(r.Context(), id, actor)
	h.respond(w, "approve order", order, err)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	req.normalize()
	if err := validateRequest(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Reject(r.Context(), id, actor, req.Reason)
	h.respond(w, "reject order", order, err)
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req EscalateRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
			return
		}
	}
	req.normalize()
	if err := validateRequest(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Escalate(r.Context(), id, actor, req.Reason)
	h.respond(w, "escalate order", order, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Cancel(r.Context(), id, actor)
	h.respond(w, "cancel order", order, err)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.MarkSent(r.Context(), id, actor)
	h.respond(w, "send order", order, err)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	order, err := h.service.Confirm(r.Context(), id, actor)
	h.respond(w, "confirm order", order, err)
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

func (h *Handler) respond(w http.ResponseWriter, op string, order Order, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, OrderResponse{Order: order})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &shared.ValidationError{}
	for _, fe := range fieldErrs {
		msg := "is invalid"
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "max":
			msg = "must be at most " + fe.Param() + " characters"
		}
		verr.Add(fe.Field(), msg)
	}
	return verr
}
