package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServiceTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", 15*time.Minute)

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(claims.UserID))
}

func TestAuthServiceRejectsGarbage(t *testing.T) {
	svc := NewAuthService("test-secret", 15*time.Minute)

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", 15*time.Minute)
	verifier := NewAuthService("secret-b", 15*time.Minute)

	token, err := issuer.GenerateToken("alice")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute)

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
