// internal/inventory/handler.go
package inventory

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
	r.Post("/books", h.HandleAddBook)
	r.Get("/books/{id}", h.HandleGetBook)
	r.Put("/books/{id}/inventory", h.HandleResize)
	r.Delete("/books/{id}", h.HandleRetire)
	r.Get("/books/{id}/consistency", h.HandleConsistency)
}

func bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid book id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req NewBook
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	book, err := h.service.AddBook(r.Context(), requestcontext.ActorFrom(r.Context()).ID, req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, book)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, book)
}

func (h *Handler) HandleResize(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var req ResizeRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	book, err := h.service.ResizeInventory(r.Context(), requestcontext.ActorFrom(r.Context()).ID, id, req.TotalCopies)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, book)
}

func (h *Handler) HandleRetire(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.RetireBook(r.Context(), requestcontext.ActorFrom(r.Context()).ID, id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONNoContent(w)
}

func (h *Handler) HandleConsistency(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	report, err := h.service.CheckConsistency(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, report)
}
