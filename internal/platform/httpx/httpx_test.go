package httpx

import (
	stdjson "encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/apperr"
	"libracirc/internal/platform/requestcontext"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, stdjson.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	return body.Error
}

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.ErrInvalidPeriod, http.StatusBadRequest, "INVALID_PERIOD"},
		{apperr.ErrBookNotFound, http.StatusNotFound, "BOOK_NOT_FOUND"},
		{apperr.ErrExhausted, http.StatusConflict, "EXHAUSTED"},
		{apperr.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{apperr.ErrContention, http.StatusServiceUnavailable, "CONTENTION"},
		{fmt.Errorf("raw: %w", assert.AnError), http.StatusInternalServerError, "STORE_ERROR"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

		assert.Equal(t, tc.status, rec.Code, tc.code)
		assert.Equal(t, tc.code, decodeError(t, rec).Code)
	}
}

func TestWriteErrorMarksContentionRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperr.ErrContention)

	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.True(t, decodeError(t, rec).Retryable)
}

func TestDecodeJSONValidates(t *testing.T) {
	type req struct {
		BookID string `json:"book_id" validate:"required,uuid"`
		Days   int    `json:"days" validate:"min=0,max=30"`
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"nope","days":45}`))
	var v req
	assert.False(t, DecodeJSON(rec, r, &v))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Details, 2)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"`+uuid.NewString()+`","days":7}`))
	assert.True(t, DecodeJSON(rec, r, &v))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func signToken(t *testing.T, secret, subject, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestActorMiddlewareWithToken(t *testing.T) {
	actorID := uuid.New()
	var got requestcontext.Actor
	h := ActorMiddleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.ActorFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", actorID.String(), "staff"))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actorID, got.ID)
	assert.Equal(t, "staff", got.Role)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other", actorID.String(), "staff"))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActorMiddlewareTrustedHeader(t *testing.T) {
	actorID := uuid.New()
	var got requestcontext.Actor
	h := ActorMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.ActorFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Actor-Id", actorID.String())
	h.ServeHTTP(rec, req)
	assert.Equal(t, actorID, got.ID)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Actor-Id", "junk")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
