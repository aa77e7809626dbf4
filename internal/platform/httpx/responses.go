// Package httpx holds the JSON envelope, error mapping and middleware shared
// by every HTTP handler.
package httpx

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/apperr"
	"libracirc/internal/platform/requestcontext"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   ErrorResponseBody `json:"error"`
	Meta    interface{}       `json:"meta,omitempty"`
}

type ErrorResponseBody struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable,omitempty"`
	Details   []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func meta(r *http.Request) interface{} {
	id := requestcontext.RequestID(r.Context())
	if id == "" {
		return nil
	}
	return map[string]string{"request_id": id}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func JSONSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data, Meta: meta(r)})
}

func JSONCreated(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true, Data: data, Meta: meta(r)})
}

func JSONNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func JSONError(w http.ResponseWriter, r *http.Request, status int, code, message string, details []ErrorDetail) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   ErrorResponseBody{Code: code, Message: message, Details: details},
		Meta:    meta(r),
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err in the envelope. Unclassified errors are reported as
// STORE_ERROR without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		JSONError(w, r, http.StatusInternalServerError, string(apperr.CodeStore), apperr.ErrStore.Message, nil)
		return
	}
	status := StatusFor(ae.Kind)
	message := ae.Message
	if ae.Kind == apperr.KindStore {
		message = apperr.ErrStore.Message
	}
	if ae.Kind == apperr.KindContention {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error: ErrorResponseBody{
			Code:      string(ae.Code),
			Message:   message,
			Retryable: apperr.IsRetryable(err),
		},
		Meta: meta(r),
	})
}

// DecodeJSON reads a request body into v and validates its struct tags.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		JSONError(w, r, http.StatusBadRequest, string(apperr.CodeInvalidInput), "invalid request body", nil)
		return false
	}
	if details := Validate(v); len(details) > 0 {
		JSONError(w, r, http.StatusBadRequest, string(apperr.CodeInvalidInput), "validation failed", details)
		return false
	}
	return true
}
