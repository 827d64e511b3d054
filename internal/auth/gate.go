// Package auth implements the Auth Gate: validating an inbound credential
// before a connection is upgraded, and deciding whether the resulting
// principal may open a given document. It never mints tokens - that is an
// upstream identity service's job.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	collaberrors "github.com/collabspace/collabd/internal/errors"
)

// Config configures the Auth Gate's token verification.
type Config struct {
	// SecretKey is the HMAC signing key used by the upstream issuer.
	SecretKey string
	// Issuer, when non-empty, must match the token's iss claim exactly.
	Issuer string
	// DefaultOpenPolicy is the MayOpen fallback when a principal carries no
	// explicit per-document access list.
	DefaultOpenPolicy bool
}

// Claims is the subset of an inbound JWT's payload the gate understands.
// Unrecognized extra fields are parsed but ignored, per the spec's "dynamic
// token payloads" design note.
type Claims struct {
	UserID          string   `json:"userId"`
	Username        string   `json:"username"`
	Permissions     []string `json:"permissions,omitempty"`
	DocumentAccess  []string `json:"documentAccess,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated identity produced by ValidateToken.
type Principal struct {
	UserID         string
	Username       string
	Permissions    []string
	DocumentAccess []string
	Expiry         time.Time
}

// Gate validates tokens and authorizes document access.
type Gate struct {
	cfg Config
}

// NewGate builds an Auth Gate from the given configuration.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// ValidateToken verifies signature, expiration, issued-at, the JWT typ
// header, and structural well-formedness of an inbound JWT, returning the
// Principal it authenticates.
//
// The signing-method check pins verification to HMAC before the key is ever
// handed back to the parser, which blocks the classic algorithm-substitution
// attack where a token's header is rewritten to "none" or to an asymmetric
// algorithm the server would otherwise trust blindly.
func (g *Gate) ValidateToken(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithIssuedAt()}
	if g.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if typ, _ := token.Header["typ"].(string); typ != "JWT" {
			return nil, fmt.Errorf("unexpected token type: %v", token.Header["typ"])
		}
		return []byte(g.cfg.SecretKey), nil
	}, opts...)
	if err != nil {
		return nil, collaberrors.Wrap(collaberrors.KindAuth, "token validation failed", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, collaberrors.Auth("token claims malformed")
	}

	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	return &Principal{
		UserID:         claims.UserID,
		Username:       claims.Username,
		Permissions:    claims.Permissions,
		DocumentAccess: claims.DocumentAccess,
		Expiry:         expiry,
	}, nil
}

// MayOpen reports whether principal may open documentId. A principal with a
// non-empty DocumentAccess allowlist is restricted to it; otherwise the
// gate's DefaultOpenPolicy decides.
func (g *Gate) MayOpen(principal *Principal, documentID string) bool {
	if principal == nil {
		return false
	}
	if len(principal.DocumentAccess) == 0 {
		return g.cfg.DefaultOpenPolicy
	}
	for _, id := range principal.DocumentAccess {
		if id == documentID {
			return true
		}
	}
	return false
}
