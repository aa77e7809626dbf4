// Package clients calls the lending HTTP API and the remote membership
// service, decoding the shared JSON envelope.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/apperr"
	"libracirc/internal/platform/httpx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Option func(*base)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(c *http.Client) Option { return func(b *base) { b.http = c } }

// WithBearerToken sends token on every request instead of the actor header.
func WithBearerToken(token string) Option { return func(b *base) { b.token = token } }

type base struct {
	baseURL string
	http    *http.Client
	token   string
}

func newBase(baseURL string, opts ...Option) base {
	b := base{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

type envelope struct {
	Success bool                     `json:"success"`
	Data    jsoniter.RawMessage      `json:"data"`
	Error   *httpx.ErrorResponseBody `json:"error"`
}

// call sends in as JSON and decodes the envelope's data into out. Error
// envelopes come back as *apperr.Error with the server's code.
func (b base) call(ctx context.Context, method, path string, actor uuid.UUID, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	} else if actor != uuid.Nil {
		req.Header.Set("X-Actor-Id", actor.String())
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode %d response: %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || env.Error != nil {
		return remoteError(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func remoteError(status int, body *httpx.ErrorResponseBody) error {
	kind := kindForStatus(status)
	if body == nil {
		return apperr.New(kind, apperr.CodeStore, fmt.Sprintf("unexpected status %d", status))
	}
	return apperr.New(kind, apperr.Code(body.Code), body.Message)
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindStateConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.KindUnauthorized
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return apperr.KindContention
	default:
		return apperr.KindStore
	}
}
