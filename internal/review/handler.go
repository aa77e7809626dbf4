package review

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/platform/httpx"
	"libracirc/internal/platform/requestcontext"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/reviews", h.HandleSubmit)
	r.Get("/reviews/{id}", h.HandleGet)
	r.Patch("/reviews/{id}", h.HandleUpdate)
	r.Delete("/reviews/{id}", h.HandleDelete)
	r.Get("/books/{id}/reviews", h.HandleListForBook)
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	actor := requestcontext.ActorFrom(r.Context()).ID
	if actor == uuid.Nil {
		httpx.JSONError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "caller identity required", nil)
		return
	}
	// user_id defaults to the caller; acting for someone else needs staff.
	if req.UserID == uuid.Nil {
		req.UserID = actor
	}
	rv, err := h.service.Submit(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, rv)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, rv)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	rv, err := h.service.Update(r.Context(), id, requestcontext.ActorFrom(r.Context()).ID, req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, rv)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, requestcontext.ActorFrom(r.Context()).ID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONNoContent(w)
}

func (h *Handler) HandleListForBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	reviews, err := h.service.ListForBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, reviews)
}
