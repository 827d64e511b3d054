package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenAcceptsWellFormedToken(t *testing.T) {
	gate := NewGate(Config{SecretKey: "shh"})
	claims := Claims{
		UserID:   "u1",
		Username: "ada",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	principal, err := gate.ValidateToken(signToken(t, "shh", claims))
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.UserID)
	assert.Equal(t, "ada", principal.Username)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	gate := NewGate(Config{SecretKey: "shh"})
	claims := Claims{UserID: "u1"}

	_, err := gate.ValidateToken(signToken(t, "wrong", claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsAlgNone(t *testing.T) {
	gate := NewGate(Config{SecretKey: "shh"})

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gate.ValidateToken(unsigned)
	require.Error(t, err)
}

func TestValidateTokenEnforcesIssuer(t *testing.T) {
	gate := NewGate(Config{SecretKey: "shh", Issuer: "collabd"})
	claims := Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}}

	_, err := gate.ValidateToken(signToken(t, "shh", claims))
	require.Error(t, err)
}

func TestMayOpenHonorsDocumentAccessAllowlist(t *testing.T) {
	gate := NewGate(Config{DefaultOpenPolicy: false})
	principal := &Principal{DocumentAccess: []string{"doc1"}}

	assert.True(t, gate.MayOpen(principal, "doc1"))
	assert.False(t, gate.MayOpen(principal, "doc2"))
}

func TestMayOpenFallsBackToDefaultPolicy(t *testing.T) {
	open := NewGate(Config{DefaultOpenPolicy: true})
	closed := NewGate(Config{DefaultOpenPolicy: false})
	principal := &Principal{}

	assert.True(t, open.MayOpen(principal, "anything"))
	assert.False(t, closed.MayOpen(principal, "anything"))
}
