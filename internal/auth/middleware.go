package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const ClaimsKey contextKey = "admin_claims"

// VerifyAdmin accepts "Authorization: Bearer <token>" or a ?secret= query
// parameter carrying the admin secret.
func (s *Service) VerifyAdmin(r *http.Request) (*AdminClaims, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if claims, err := s.ValidateToken(strings.TrimSpace(token)); err == nil {
				return claims, true
			}
		}
	}
	if s.CheckSecret(r.URL.Query().Get("secret")) {
		return &AdminClaims{Role: subject}, true
	}
	return nil, false
}

// Middleware rejects requests that fail VerifyAdmin with 401.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.VerifyAdmin(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

type loginRequest struct {
	Secret string `json:"secret"`
}

// LoginHandler serves POST /api/admin/login.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Login(req.Secret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
