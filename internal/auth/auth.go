// Package auth carries the identity of whoever changes the sensor registry.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Principal struct {
	Username string `json:"username"`
	// Source is where the identity was established, e.g. "http" or "cli".
	Source string `json:"source"`
}

func (p *Principal) Valid() bool {
	return p != nil && p.Username != ""
}

func (p *Principal) String() string {
	if p == nil {
		return "<anonymous>"
	}
	return p.Source + ":" + p.Username
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// BasicAuthenticator checks HTTP basic credentials against a single admin
// account whose password is stored as a bcrypt hash.
type BasicAuthenticator struct {
	username     string
	passwordHash []byte
	realm        string
}

func NewBasicAuthenticator(username, passwordHash string) *BasicAuthenticator {
	return &BasicAuthenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		realm:        "tidewatch",
	}
}

func (a *BasicAuthenticator) Enabled() bool {
	return a != nil && a.username != "" && len(a.passwordHash) > 0
}

func (a *BasicAuthenticator) Authenticate(username, password string) (*Principal, error) {
	if !a.Enabled() {
		return nil, ErrInvalidCredentials
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil || !userMatch {
		return nil, ErrInvalidCredentials
	}
	return &Principal{Username: username, Source: "http"}, nil
}

// Middleware rejects requests without valid credentials and stores the
// principal in the request context.
func (a *BasicAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			a.challenge(w)
			return
		}
		principal, err := a.Authenticate(username, password)
		if err != nil {
			a.challenge(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (a *BasicAuthenticator) challenge(w http.ResponseWriter) {
	realm := "tidewatch"
	if a != nil && a.realm != "" {
		realm = a.realm
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication required"}`))
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
