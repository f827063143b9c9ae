// Package session resolves the current user from the hosted auth
// provider. Absence of a user is the guest path, not an error.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// User is the authenticated principal attached to a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Accessor verifies a bearer token against the auth provider and
// returns the session user.
type Accessor interface {
	Verify(ctx context.Context, token string) (User, error)
}

// HostedAccessor verifies tokens against a hosted auth provider's
// user-info endpoint (Supabase-style /auth/v1/user).
type HostedAccessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHostedAccessor creates an accessor for the given provider URL and
// service key.
func NewHostedAccessor(baseURL, apiKey string) *HostedAccessor {
	return &HostedAccessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *HostedAccessor) Verify(ctx context.Context, token string) (User, error) {
	if strings.TrimSpace(token) == "" {
		return User{}, fmt.Errorf("token is required")
	}
	if a.baseURL == "" {
		return User{}, fmt.Errorf("auth provider url is not configured")
	}

	url := a.baseURL + "/auth/v1/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, fmt.Errorf("token verification failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("token verification failed: missing user id")
	}
	return u, nil
}

// StaticAccessor maps fixed tokens to users. For tests and development.
type StaticAccessor map[string]User

func (a StaticAccessor) Verify(_ context.Context, token string) (User, error) {
	u, ok := a[token]
	if !ok {
		return User{}, fmt.Errorf("unknown token")
	}
	return u, nil
}

type ctxKey struct{}

// FromContext returns the request's session user, if any.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// WithUser attaches a user to a context. Exposed for tests.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// Middleware resolves the Authorization bearer token into the request
// context. Requests without a token proceed as guests; a token that
// fails verification is rejected.
func Middleware(accessor Accessor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			u, err := accessor.Verify(r.Context(), token)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}
