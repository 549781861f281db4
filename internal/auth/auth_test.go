package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cron string) *Service {
	t.Helper()
	s, err := NewService("admin-pass", "jwt-secret", cron)
	require.NoError(t, err)
	return s
}

func TestNewServiceRequiresSecrets(t *testing.T) {
	_, err := NewService("", "jwt", "")
	assert.Error(t, err)
	_, err = NewService("admin", "", "")
	assert.Error(t, err)
}

func TestLoginAndValidate(t *testing.T) {
	s := newTestService(t, "")

	_, err := s.Login("wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := s.Login("admin-pass")
	require.NoError(t, err)
	claims, err := s.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)

	other, err := NewService("admin-pass", "different", "")
	require.NoError(t, err)
	_, err = other.ValidateToken(res.AccessToken)
	assert.Error(t, err)
}

func TestTokenExpires(t *testing.T) {
	s := newTestService(t, "")
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	res, err := s.Login("admin-pass")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(25 * time.Hour) }
	_, err = s.ValidateToken(res.AccessToken)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t, "")
	res, err := s.Login("admin-pass")
	require.NoError(t, err)

	protected := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Value(ClaimsKey).(*AdminClaims)
		assert.True(t, ok)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/x", "", http.StatusUnauthorized},
		{"bearer token", "/x", "Bearer " + res.AccessToken, http.StatusNoContent},
		{"bad token", "/x", "Bearer nope", http.StatusUnauthorized},
		{"secret query", "/x?secret=admin-pass", "", http.StatusNoContent},
		{"wrong secret", "/x?secret=guess", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	s := newTestService(t, "")

	rec := httptest.NewRecorder()
	s.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewBufferString(`{"secret":"admin-pass"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var res LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.NotEmpty(t, res.AccessToken)

	rec = httptest.NewRecorder()
	s.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewBufferString(`{"secret":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckCron(t *testing.T) {
	assert.True(t, newTestService(t, "").CheckCron("anything"))

	s := newTestService(t, "tick")
	assert.True(t, s.CheckCron("tick"))
	assert.False(t, s.CheckCron(""))
	assert.False(t, s.CheckCron("tock"))
}
