// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/platform/httpx"
)

// Handler exposes directory lookups so other services can use the HTTP client.
type Handler struct {
	directory Directory
}

func NewHandler(directory Directory) *Handler {
	return &Handler{directory: directory}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/members/{id}", h.HandleGetMember)
}

func (h *Handler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid member id", nil)
		return
	}

	member, err := h.directory.GetMember(r.Context(), id)
	if errors.Is(err, ErrMemberNotFound) {
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "member not found", nil)
		return
	}
	if err != nil {
		httpx.JSONError(w, r, http.StatusInternalServerError, "STORE_ERROR", "member lookup failed", nil)
		return
	}

	httpx.JSONSuccess(w, r, member)
}
