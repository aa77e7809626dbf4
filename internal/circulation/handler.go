// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/platform/httpx"
	"libracirc/internal/platform/requestcontext"
	"libracirc/internal/store"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.HandleBorrow)
	r.Get("/loans", h.HandleListLoans)
	r.Get("/loans/overdue", h.HandleOverdue)
	r.Get("/loans/{id}", h.HandleGetLoan)
	r.Post("/loans/{id}/return", h.HandleReturn)
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
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

	res, err := h.service.Borrow(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, res)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid loan id", nil)
		return
	}

	res, err := h.service.Return(r.Context(), loanID, requestcontext.ActorFrom(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, res)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid loan id", nil)
		return
	}
	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, loan)
}

func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.LoanFilter
	for name, dst := range map[string]*uuid.UUID{"user_id": &filter.UserID, "book_id": &filter.BookID} {
		if raw := q.Get(name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid "+name, nil)
				return
			}
			*dst = id
		}
	}
	filter.ActiveOnly = q.Get("active") == "true"
	filter.Limit = limitParam(r, 100)

	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, loans)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOverdue(r.Context(), limitParam(r, 100))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, loans)
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
