// Package auth verifies bearer tokens and attaches the caller to the request.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/xerr"
)

var (
	ErrMissingToken = xerr.New(xerr.Unauthorized, "Token is missing.")
	ErrInvalidToken = xerr.New(xerr.Unauthorized, "Invalid or expired token.")
)

// Claims is the token payload: {userId, role} plus the registered claims.
type Claims struct {
	UserID int64       `json:"userId"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWT is an HS256 domain.Authenticator.
type JWT struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

var _ domain.Authenticator = (*JWT)(nil)

func NewJWT(secret string, expiry time.Duration) *JWT {
	return &JWT{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue signs a token for p. expiry <= 0 means no exp claim.
func (j *JWT) Issue(p domain.Principal) (string, error) {
	if len(j.secret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}
	now := j.now()
	claims := Claims{
		UserID: p.ID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if j.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) Authenticate(_ context.Context, credential string) (domain.Principal, error) {
	if credential == "" {
		return domain.Principal{}, ErrMissingToken
	}
	if len(j.secret) == 0 {
		return domain.Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return domain.Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return domain.Principal{}, ErrInvalidToken
	}
	switch claims.Role {
	case domain.RoleAdmin, domain.RoleRegular:
	default:
		return domain.Principal{}, ErrInvalidToken
	}
	return domain.Principal{ID: claims.UserID, Role: claims.Role}, nil
}
