package auth

import (
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	svc, err := NewTokenService("secret", "pylos", time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken(42)
	require.NoError(t, err)

	id, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	assert.NoError(t, svc.Authorize(token, 42))
	assert.ErrorIs(t, svc.Authorize(token, 7), ErrSubjectMismatch)
}

func TestVerifyRejects(t *testing.T) {
	svc, err := NewTokenService("secret", "pylos", time.Hour)
	require.NoError(t, err)
	other, err := NewTokenService("other", "pylos", time.Hour)
	require.NoError(t, err)
	foreign, err := NewTokenService("secret", "elsewhere", time.Hour)
	require.NoError(t, err)

	expired, err := NewTokenService("secret", "pylos", time.Hour)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	wrongKey, _ := other.GenerateToken(1)
	wrongIssuer, _ := foreign.GenerateToken(1)
	stale, _ := expired.GenerateToken(1)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.StandardClaims{Subject: "1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong key", token: wrongKey},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "expired", token: stale},
		{name: "alg none", token: unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifyToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewTokenServiceValidation(t *testing.T) {
	_, err := NewTokenService("", "pylos", 0)
	assert.Error(t, err)

	svc, err := NewTokenService("secret", "", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultTTL, svc.ttl)

	_, err = svc.GenerateToken(0)
	assert.Error(t, err)
}
