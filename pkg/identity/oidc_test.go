package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCVerifier_StaticKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := "https://issuer.example.com"
	v := NewOIDCVerifierWithKeys(issuer, "carebridge", &oidc.StaticKeySet{
		PublicKeys: []crypto.PublicKey{&key.PublicKey},
	})

	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user_9",
		"aud":   "carebridge",
		"email": "nine@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	p, err := v.VerifyToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user_9", p.Subject)
	assert.Equal(t, "nine@example.com", p.Email)

	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": issuer,
		"sub": "user_9",
		"aud": "someone-else",
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	_, err = v.VerifyToken(context.Background(), wrongAud)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
