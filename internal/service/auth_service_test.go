package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *AuthService {
	t.Helper()
	_, rdb := newRedis(t)
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, rdb)
}

func TestStudentTokenLifecycle(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	token, err := auth.GenerateStudentToken(ctx, 42, "0042")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	require.NoError(t, auth.ValidateStudentSession(ctx, 42, claims.ID))

	_, err = auth.GenerateStudentToken(ctx, 42, "0042")
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)

	require.NoError(t, auth.ResetStudentSession(ctx, 42))
	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, 42, claims.ID), ErrNoActiveSession)

	again, err := auth.GenerateStudentToken(ctx, 42, "0042")
	require.NoError(t, err)
	fresh, err := auth.ValidateToken(again)
	require.NoError(t, err)
	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, 42, claims.ID), ErrSessionInvalidated)
	assert.NoError(t, auth.ValidateStudentSession(ctx, 42, fresh.ID))
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	auth := newAuth(t)
	other := newAuth(t)
	other.cfg.JWTSecret = "someone-else"

	token, err := other.GenerateStudentToken(context.Background(), 1, "0001")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	auth := newAuth(t)

	hash, err := auth.HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NoError(t, auth.CheckPassword(hash, "s3cret!"))
	assert.ErrorIs(t, auth.CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestValidateTokenExpiry(t *testing.T) {
	auth := newAuth(t)
	clock := clockwork.NewFakeClockAt(t0)
	auth.clock = clock

	token, err := auth.GenerateStudentToken(context.Background(), 5, "0005")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "0005", claims.NISN)

	clock.Advance(2 * time.Minute)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateTokenRejectsForeignIssuer(t *testing.T) {
	auth := newAuth(t)
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: TokenTypeStudent,
		UserID:    9,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
