package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/membership"
	"libracirc/internal/platform/httpx"
	"libracirc/internal/platform/requestcontext"
	"libracirc/internal/store"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Handler serves audit trail queries to staff.
type Handler struct {
	reader    store.Reader
	directory membership.Directory
}

func NewHandler(reader store.Reader, directory membership.Directory) *Handler {
	return &Handler{reader: reader, directory: directory}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit", h.HandleList)
}

// HandleList returns entries newest first, filtered by the actor_id,
// target_type, target_id and action_type query parameters.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ok, err := membership.IsPrivileged(r.Context(), h.directory, requestcontext.ActorFrom(r.Context()).ID)
	if err != nil {
		httpx.JSONError(w, r, http.StatusInternalServerError, "STORE_ERROR", "membership lookup failed", nil)
		return
	}
	if !ok {
		httpx.JSONError(w, r, http.StatusForbidden, "UNAUTHORIZED", "audit trail is restricted to staff", nil)
		return
	}

	filter, details := parseFilter(r)
	if len(details) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid audit query", details)
		return
	}
	entries, err := h.reader.ListAudit(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, store.Translate(err, nil))
		return
	}
	httpx.JSONSuccess(w, r, entries)
}

func parseFilter(r *http.Request) (store.AuditFilter, []httpx.ErrorDetail) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		TargetType: q.Get("target_type"),
		ActionType: q.Get("action_type"),
		Limit:      defaultQueryLimit,
	}
	var details []httpx.ErrorDetail
	for _, p := range []struct {
		name string
		dst  *uuid.UUID
	}{{"actor_id", &filter.ActorID}, {"target_id", &filter.TargetID}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			details = append(details, httpx.ErrorDetail{Field: p.name, Message: "must be a UUID"})
			continue
		}
		*p.dst = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQueryLimit {
			details = append(details, httpx.ErrorDetail{Field: "limit", Message: "must be between 1 and 1000"})
		} else {
			filter.Limit = n
		}
	}
	return filter, details
}
