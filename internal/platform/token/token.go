// Package token validates the bearer tokens the transport layer receives
// and turns them into actor identities.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"phivault/pkg/domain"
)

// Claims are the registered plus custom claims carried by service tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Validator parses and verifies HMAC-signed bearer tokens.
type Validator struct {
	signingKey []byte
	issuer     string
}

func NewValidator(signingKey []byte, issuer string) *Validator {
	return &Validator{signingKey: signingKey, issuer: issuer}
}

// Validate verifies the token signature and expiry and returns the actor it
// asserts. The role claim must name a known role.
func (v *Validator) Validate(raw string) (domain.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signingKey, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("token is invalid")
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("token has no subject")
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleSubmitter, domain.RoleReviewer, domain.RoleCompliance, domain.RoleService:
	default:
		return domain.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	return domain.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  role,
	}, nil
}

// Issue signs a token for the given actor. Used by tests and the local
// development issuer; production deployments validate tokens minted by the
// identity provider.
func (v *Validator) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: actor.Email,
		Role:  string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
}
