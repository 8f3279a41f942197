package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func startJWKCache(ctx context.Context, jwksURL string) (*jwk.Cache, error) {
	c := jwk.NewCache(ctx)
	if err := c.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, err
	}
	if _, err := c.Refresh(ctx, jwksURL); err != nil {
		return nil, err
	}
	slog.Info("jwk cache started", "url", jwksURL)
	return c, nil
}

// OidcAuth verifies bearer tokens against the key set published at
// jwksURL. The key set is fetched once here and refreshed in the
// background until ctx is done.
func OidcAuth(ctx context.Context, jwksURL string) (func(next http.Handler) http.Handler, error) {
	c, err := startJWKCache(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	return middleware(func(r *http.Request) ([]jwt.ParseOption, error) {
		keyset, err := c.Get(r.Context(), jwksURL)
		if err != nil {
			return nil, err
		}
		return []jwt.ParseOption{jwt.WithKeySet(keyset)}, nil
	}), nil
}

// SharedSecret verifies HS256 bearer tokens signed with secret.
func SharedSecret(secret []byte) func(next http.Handler) http.Handler {
	return middleware(func(*http.Request) ([]jwt.ParseOption, error) {
		return []jwt.ParseOption{jwt.WithKey(jwa.HS256, secret)}, nil
	})
}

func middleware(keys func(*http.Request) ([]jwt.ParseOption, error)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			opts, err := keys(r)
			if err != nil {
				slog.Error("could not retrieve keyset", "error", err)
				http.Error(w, "internal server error validating authorization header", http.StatusInternalServerError)
				return
			}
			token, err := bearer(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			opts = append(opts, jwt.WithValidate(true))
			_, err = jwt.ParseString(token, opts...)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			if jwt.IsValidationError(err) {
				slog.Warn("jwt could not be validated", "error", err)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			slog.Warn("jwt could not be parsed", "error", err)
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		})
	}
}

func bearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("authorization header is not a bearer token")
	}
	return token, nil
}
