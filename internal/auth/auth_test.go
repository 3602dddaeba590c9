package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthenticator(t *testing.T) *BasicAuthenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewBasicAuthenticator("admin", string(hash))
}

func TestAuthenticate(t *testing.T) {
	a := newAuthenticator(t)

	p, err := a.Authenticate("admin", "s3cret")
	require.NoError(t, err)
	assert.True(t, p.Valid())
	assert.Equal(t, "http:admin", p.String())

	_, err = a.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	var disabled *BasicAuthenticator
	assert.False(t, disabled.Enabled())
}

func TestMiddleware(t *testing.T) {
	a := newAuthenticator(t)

	var seen *Principal
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sensors", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.Nil(t, seen)

	req = httptest.NewRequest(http.MethodPost, "/api/sensors", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "admin", seen.Username)
}

func TestPrincipalValidity(t *testing.T) {
	var nilPrincipal *Principal
	assert.False(t, nilPrincipal.Valid())
	assert.False(t, (&Principal{}).Valid())
	assert.Equal(t, "<anonymous>", nilPrincipal.String())
}
