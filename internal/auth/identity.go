package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningKey = errors.New("identity: signing key required")
	ErrMissingIssuer     = errors.New("identity: issuer required")
	ErrMissingToken      = errors.New("identity: token required")
	ErrInvalidToken      = errors.New("identity: invalid token")
	ErrExpiredToken      = errors.New("identity: token expired")
	ErrMissingSubject    = errors.New("identity: subject required")
)

const (
	bearerPrefix      = "bearer "
	DefaultUserHeader = "X-User-Id"
	maxUserIDLength   = 190
)

// TokenValidatorConfig describes how to validate bearer tokens.
type TokenValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// TokenValidator validates HS256 bearer tokens whose subject is the user id.
type TokenValidator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns its subject.
func (v *TokenValidator) ValidateToken(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

// Resolver determines the caller's user id for a request.
type Resolver struct {
	validator  *TokenValidator
	userHeader string
}

// NewResolver returns a resolver that trusts bearer tokens when validator is set
// and the plain user header otherwise.
func NewResolver(validator *TokenValidator, userHeader string) *Resolver {
	header := strings.TrimSpace(userHeader)
	if header == "" {
		header = DefaultUserHeader
	}
	return &Resolver{validator: validator, userHeader: header}
}

// ResolveRequest returns the caller's user id, or "" for anonymous callers.
// A bearer token that fails validation is an error, not an anonymous request.
func (r *Resolver) ResolveRequest(request *http.Request) (string, error) {
	if request == nil {
		return "", nil
	}
	if r.validator != nil {
		authorization := strings.TrimSpace(request.Header.Get("Authorization"))
		if authorization == "" {
			return "", nil
		}
		if len(authorization) <= len(bearerPrefix) || !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
			return "", fmt.Errorf("%w: expected bearer authorization", ErrInvalidToken)
		}
		return r.validator.ValidateToken(authorization[len(bearerPrefix):])
	}

	userID := strings.TrimSpace(request.Header.Get(r.userHeader))
	if len(userID) > maxUserIDLength {
		return "", fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidToken, maxUserIDLength)
	}
	return userID, nil
}
