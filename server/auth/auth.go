// Package auth authorizes API requests with OIDC bearer tokens. Only callers
// holding the admin role may use the roster API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	// ErrUnauthenticated is returned when a request carries no bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller lacks the admin role.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string   `json:"subject"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether role is among the caller's roles.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, strings.ToLower(role))
}

type ctxKeyIdentity struct{}

// ContextWithIdentity returns a context carrying identity.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// Config configures token verification.
type Config struct {
	IssuerURL  string
	ClientID   string
	AdminRole  string
	RolesClaim string
}

// Verifier checks raw ID tokens. *oidc.IDTokenVerifier implements it.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Middleware rejects requests without a valid token carrying the admin role.
type Middleware struct {
	verifier   Verifier
	adminRole  string
	rolesClaim string
	logger     *slog.Logger
}

// New discovers the issuer and returns a Middleware verifying its tokens.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Middleware, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return NewWithVerifier(verifier, cfg, logger), nil
}

// NewWithVerifier returns a Middleware using verifier.
func NewWithVerifier(verifier Verifier, cfg Config, logger *slog.Logger) *Middleware {
	rolesClaim := cfg.RolesClaim
	if rolesClaim == "" {
		rolesClaim = "roles"
	}
	adminRole := cfg.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	return &Middleware{
		verifier:   verifier,
		adminRole:  strings.ToLower(adminRole),
		rolesClaim: rolesClaim,
		logger:     logger.With("component", "auth"),
	}
}

// Authenticate verifies the request's bearer token.
func (m *Middleware) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := tokenFromHeader(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := m.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decoding claims: %w", err)
	}
	email, _ := claims["email"].(string)
	return Identity{
		Subject: token.Subject,
		Email:   email,
		Roles:   extractRoles(claims, m.rolesClaim),
	}, nil
}

// Wrap authorizes every request before passing it to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthorized"
			}
			m.logger.Info("request denied", "reason", reason, "error", err,
				"method", r.Method, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, reason)
			return
		}

		if !identity.HasRole(m.adminRole) {
			m.logger.Info("request denied", "reason", "forbidden", "subject", identity.Subject,
				"method", r.Method, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, ErrForbidden.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func extractRoles(claims map[string]any, key string) []string {
	var raw []string
	switch typed := claims[key].(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Fields(strings.ReplaceAll(typed, ",", " "))
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
