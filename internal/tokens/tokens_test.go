package tokens_test

import (
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/chirino/vault-service/internal/tokens"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := tokens.New()
		require.NoError(t, err)
		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		require.Len(t, raw, 32)
		require.False(t, seen[token], "tokens must not repeat")
		seen[token] = true
	}
}

func TestHashTokenPeppered(t *testing.T) {
	h1 := tokens.HashToken("pepper-a", "tok")
	h2 := tokens.HashToken("pepper-a", "tok")
	h3 := tokens.HashToken("pepper-b", "tok")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64) // hex SHA-256
}

func TestNewOTP(t *testing.T) {
	for i := 0; i < 200; i++ {
		otp, err := tokens.NewOTP()
		require.NoError(t, err)
		require.Len(t, otp, 6)
		n, err := strconv.Atoi(otp)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 1000000)
	}
}

func TestVerifyOTP(t *testing.T) {
	secret := []byte("otp-secret")
	salt := []byte("0123456789abcdef")
	stored := tokens.HashOTP(secret, "123456", salt)

	require.True(t, tokens.VerifyOTP(secret, "123456", salt, stored))
	require.False(t, tokens.VerifyOTP(secret, "123457", salt, stored))
	require.False(t, tokens.VerifyOTP(secret, "123456", []byte("fedcba9876543210"), stored))
	require.False(t, tokens.VerifyOTP([]byte("other"), "123456", salt, stored))
}

func TestHashEmailNormalizes(t *testing.T) {
	salt := []byte("0123456789abcdef")
	h1 := tokens.HashEmail(salt, "V@Example.Test")
	h2 := tokens.HashEmail(salt, "  v@example.test ")
	require.Equal(t, h1, h2)

	// A different salt makes the hash non-correlatable.
	require.NotEqual(t, h1, tokens.HashEmail([]byte("fedcba9876543210"), "v@example.test"))
}

func TestEmailsEqual(t *testing.T) {
	require.True(t, tokens.EmailsEqual("V@Example.Test ", "v@example.test"))
	require.False(t, tokens.EmailsEqual("a@example.test", "b@example.test"))
}
