package httpx

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"libracirc/internal/platform/requestcontext"
)

const actorHeader = "X-Actor-Id"

// Claims are issued by the session service; this side only verifies them.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 bearer token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ActorMiddleware puts the caller into the request context. With a secret
// it requires a bearer token whose subject is the actor's UUID. Without one
// it trusts the X-Actor-Id header, for deployments behind an authenticating
// gateway.
func ActorMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor requestcontext.Actor
			if secret == "" {
				if raw := r.Header.Get(actorHeader); raw != "" {
					id, err := uuid.Parse(raw)
					if err != nil {
						JSONError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid actor id", nil)
						return
					}
					actor.ID = id
				}
			} else {
				authHeader := r.Header.Get("Authorization")
				if !strings.HasPrefix(authHeader, "Bearer ") {
					JSONError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
					return
				}
				claims, err := ParseToken(secret, strings.TrimPrefix(authHeader, "Bearer "))
				if err != nil {
					JSONError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
					return
				}
				id, err := uuid.Parse(claims.Subject)
				if err != nil {
					JSONError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token subject", nil)
					return
				}
				actor = requestcontext.Actor{ID: id, Role: claims.Role}
			}
			ctx := requestcontext.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
