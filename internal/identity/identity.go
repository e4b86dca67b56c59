// Package identity turns bearer tokens into ledger actors.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/domain"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = apperr.Unauthorized("bearer token is required")

// Claims is the JWT body issued by the platform's auth service.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: now}, nil
}

// Verify parses a token and returns the actor it identifies.
func (v *Verifier) Verify(token string) (domain.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Actor{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, mapJWTError(err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Actor{}, apperr.Unauthorized("token subject is required")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, apperr.Wrap(apperr.KindAuthorization, "token role is invalid", err)
	}
	return domain.Actor{UserID: claims.Subject, Role: role, TenantID: claims.TenantID}, nil
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Issuer signs tokens. The serve command never issues tokens; the CLI and
// tests do.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an issuer.
func NewIssuer(secret, issuer string, now func() time.Time) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: now}, nil
}

// Issue signs a token for actor valid for ttl.
func (i *Issuer) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	if !actor.Role.IsValid() {
		return "", fmt.Errorf("unknown role %q", actor.Role)
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:     string(actor.Role),
		TenantID: actor.TenantID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to authorization errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(apperr.KindAuthorization, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.Wrap(apperr.KindAuthorization, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperr.Wrap(apperr.KindAuthorization, "token alg is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.Wrap(apperr.KindAuthorization, "token issuer mismatch", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperr.Wrap(apperr.KindAuthorization, "token is malformed", err)
	}
	return apperr.Wrap(apperr.KindAuthorization, "token is invalid", err)
}
