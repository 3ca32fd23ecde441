// Package auth checks admin credentials for the sync trigger: a shared admin
// key (plaintext or bcrypt hash) or an HS256 bearer token with role admin.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mappy4ever/tcgsync/internal/config"
)

const (
	HeaderAdminKey = "X-Admin-Key"
	RoleAdmin      = "admin"
	bcryptCost     = 12
)

var ErrUnauthorized = errors.New("unauthorized")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	key       []byte
	keyHash   []byte
	jwtSecret []byte
}

func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{}
	if cfg.AdminKey != "" {
		a.key = []byte(cfg.AdminKey)
	}
	if cfg.AdminKeyHash != "" {
		a.keyHash = []byte(cfg.AdminKeyHash)
	}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	return a
}

// Configured reports whether any credential can succeed.
func (a *Authenticator) Configured() bool {
	return len(a.key) > 0 || len(a.keyHash) > 0 || len(a.jwtSecret) > 0
}

// Authenticate accepts X-Admin-Key or Authorization: Bearer <jwt>.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if key := r.Header.Get(HeaderAdminKey); key != "" {
		return a.CheckKey(key)
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			_, err := a.CheckToken(strings.TrimSpace(token))
			return err
		}
	}
	return ErrUnauthorized
}

func (a *Authenticator) CheckKey(key string) error {
	if key == "" {
		return ErrUnauthorized
	}
	if len(a.key) > 0 && subtle.ConstantTimeCompare([]byte(key), a.key) == 1 {
		return nil
	}
	if len(a.keyHash) > 0 && bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)) == nil {
		return nil
	}
	return ErrUnauthorized
}

// CheckToken validates an HS256 token that carries role admin and an expiry.
func (a *Authenticator) CheckToken(token string) (*Claims, error) {
	if len(a.jwtSecret) == 0 || token == "" {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: role %q", ErrUnauthorized, claims.Role)
	}
	return claims, nil
}

// IssueToken signs an admin token for subject valid for ttl.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("no jwt secret configured")
	}
	now := time.Now()
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// HashKey returns the bcrypt hash to put in auth.admin_key_hash.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
