package utils

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	AdminIDKey    = contextKey("adminID")
	AdminEmailKey = contextKey("adminEmail")
	RequestIDKey  = contextKey("requestID")
)

var ErrInvalidToken = errors.New("invalid token")

// AdminClaims is the payload of an admin access token.
type AdminClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 admin tokens.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret, issuer, audience string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, audience: audience, ttl: ttl, now: time.Now}
}

// GenerateAdminToken issues an access token for the given admin.
func (t *TokenIssuer) GenerateAdminToken(id int64, email string) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, errors.New("JWT_SECRET is not set")
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := AdminClaims{
		Email: email,
		Role:  "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        NewRequestID(),
			Issuer:    t.issuer,
		},
	}
	if t.audience != "" {
		claims.Audience = jwt.ClaimStrings{t.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateAdminToken parses tokenStr and checks signature, expiry, issuer,
// audience and role.
func (t *TokenIssuer) ValidateAdminToken(tokenStr string) (*AdminClaims, error) {
	if len(t.secret) == 0 {
		return nil, errors.New("JWT_SECRET is not set")
	}
	opts := []jwt.ParserOption{
		// Require exact HS256 algorithm to avoid algorithm confusion.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != "admin" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return tok, tok != ""
}

// GetAdminID returns the authenticated admin id from the request context.
func GetAdminID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(AdminIDKey).(int64)
	return id, ok
}

// WithAdmin stores the authenticated admin on ctx.
func WithAdmin(ctx context.Context, id int64, email string) context.Context {
	ctx = context.WithValue(ctx, AdminIDKey, id)
	return context.WithValue(ctx, AdminEmailKey, email)
}

// GetRequestID returns the request id set by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
