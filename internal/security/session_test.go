package security_test

import (
	"strings"
	"testing"
	"time"

	"github.com/chirino/vault-service/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testUA = "Mozilla/5.0 (test) Gecko/20100101"

var sessionSecret = []byte("session-secret-for-tests")

func makeSession(t *testing.T, expiresIn time.Duration) (security.VendorSession, string) {
	t.Helper()
	s := security.VendorSession{
		ShareLinkID:     uuid.New(),
		VendorEmailHash: "abc123",
		UserAgentHash:   security.UserAgentHash(sessionSecret, testUA),
		ExpiresAt:       time.Now().Add(expiresIn).Unix(),
	}
	cookie, err := security.SignVendorSession(sessionSecret, s)
	require.NoError(t, err)
	return s, cookie
}

func TestSessionRoundTrip(t *testing.T) {
	s, cookie := makeSession(t, time.Minute)

	got, err := security.ValidateVendorSession(sessionSecret, cookie, testUA, time.Now())
	require.NoError(t, err)
	require.Equal(t, s.ShareLinkID, got.ShareLinkID)
	require.Equal(t, s.VendorEmailHash, got.VendorEmailHash)
}

func TestSessionPayloadContainsColons(t *testing.T) {
	// The JSON payload contains ':' characters; the parser must split at the
	// rightmost one only.
	_, cookie := makeSession(t, time.Minute)
	require.Greater(t, strings.Count(cookie, ":"), 1)

	_, err := security.ValidateVendorSession(sessionSecret, cookie, testUA, time.Now())
	require.NoError(t, err)
}

func TestSessionRejectsTamperedPayload(t *testing.T) {
	_, cookie := makeSession(t, time.Minute)
	idx := strings.LastIndexByte(cookie, ':')
	tampered := strings.Replace(cookie[:idx], "abc123", "abc124", 1) + cookie[idx:]

	_, err := security.ValidateVendorSession(sessionSecret, tampered, testUA, time.Now())
	require.ErrorIs(t, err, security.ErrBadSession)
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	_, cookie := makeSession(t, time.Minute)
	_, err := security.ValidateVendorSession([]byte("other secret"), cookie, testUA, time.Now())
	require.ErrorIs(t, err, security.ErrBadSession)
}

func TestSessionRejectsExpired(t *testing.T) {
	_, cookie := makeSession(t, -time.Minute)
	_, err := security.ValidateVendorSession(sessionSecret, cookie, testUA, time.Now())
	require.ErrorIs(t, err, security.ErrBadSession)
}

func TestSessionBoundToUserAgent(t *testing.T) {
	_, cookie := makeSession(t, time.Minute)
	_, err := security.ValidateVendorSession(sessionSecret, cookie, "Different/1.0", time.Now())
	require.ErrorIs(t, err, security.ErrBadSession)
}

func TestSessionRejectsGarbage(t *testing.T) {
	for _, v := range []string{"", "nocolon", ":", "{}:deadbeef"} {
		_, err := security.ValidateVendorSession(sessionSecret, v, testUA, time.Now())
		require.ErrorIs(t, err, security.ErrBadSession, "%q", v)
	}
}
