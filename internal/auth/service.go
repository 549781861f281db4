// Package auth guards the administrative surface. Operators authenticate
// with the shared admin secret, either directly or by trading it for a
// short-lived admin token.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer   = "go-chatroom"
	subject  = "admin"
	tokenTTL = 24 * time.Hour
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service verifies admin secrets and issues admin tokens. Only a bcrypt
// hash of the admin secret is kept.
type Service struct {
	adminHash  []byte
	jwtSecret  []byte
	cronSecret string
	now        func() time.Time
}

func NewService(adminSecret, jwtSecret, cronSecret string) (*Service, error) {
	if adminSecret == "" || jwtSecret == "" {
		return nil, errors.New("admin and jwt secrets are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}
	return &Service{
		adminHash:  hash,
		jwtSecret:  []byte(jwtSecret),
		cronSecret: cronSecret,
		now:        time.Now,
	}, nil
}

// CheckSecret reports whether secret is the admin secret.
func (s *Service) CheckSecret(secret string) bool {
	return secret != "" && bcrypt.CompareHashAndPassword(s.adminHash, []byte(secret)) == nil
}

// Login trades the admin secret for a signed admin token.
func (s *Service) Login(secret string) (*LoginResponse, error) {
	if !s.CheckSecret(secret) {
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	expires := now.Add(tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	ss, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{AccessToken: ss, ExpiresAt: expires}, nil
}

// ValidateToken checks signature, expiry and role of an admin token.
func (s *Service) ValidateToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != subject {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// CheckCron authorizes cron posts and system messages. An empty cron
// secret leaves them open.
func (s *Service) CheckCron(secret string) bool {
	if s.cronSecret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.cronSecret)) == 1
}
