package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VendorSessionCookie is the cookie name carrying the signed vendor session.
const VendorSessionCookie = "vendor_session"

// userAgentHashLen is the number of hex characters of the user-agent HMAC
// kept in the session payload.
const userAgentHashLen = 16

// ErrBadSession is returned for any cookie that fails validation. Callers
// must not distinguish signature, expiry, and binding failures.
var ErrBadSession = errors.New("security: invalid vendor session")

// VendorSession is the payload of the signed vendor session cookie. It binds
// the session to one share link, one (hashed) vendor email, and a stable
// user-agent fingerprint.
type VendorSession struct {
	ShareLinkID     uuid.UUID `json:"shareLinkId"`
	VendorEmailHash string    `json:"vendorEmailHash"`
	UserAgentHash   string    `json:"userAgentHash"`
	ExpiresAt       int64     `json:"expiresAt"`
}

// SignVendorSession serializes and signs a session. The cookie value is the
// JSON payload followed by ':' and the hex HMAC-SHA256 of the payload.
func SignVendorSession(secret []byte, s VendorSession) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(payload) + ":" + signPayload(secret, payload), nil
}

// ValidateVendorSession verifies a cookie value against the signing secret,
// the presenting user agent, and the clock. The payload JSON may itself
// contain ':'; the signature is hex and never does, so the split is at the
// rightmost ':'.
func ValidateVendorSession(secret []byte, cookie, userAgent string, now time.Time) (*VendorSession, error) {
	idx := strings.LastIndexByte(cookie, ':')
	if idx < 0 {
		return nil, ErrBadSession
	}
	payload, sig := cookie[:idx], cookie[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(signPayload(secret, []byte(payload)))) {
		return nil, ErrBadSession
	}

	var s VendorSession
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, ErrBadSession
	}
	if !now.Before(time.Unix(s.ExpiresAt, 0)) {
		return nil, ErrBadSession
	}
	if !hmac.Equal([]byte(s.UserAgentHash), []byte(UserAgentHash(secret, userAgent))) {
		return nil, ErrBadSession
	}
	return &s, nil
}

// UserAgentHash fingerprints a user agent: the first 16 hex characters of
// HMAC-SHA256(secret, userAgent). It deters cookie theft; any change to the
// user-agent string, including a client version bump, yields a different
// fingerprint and invalidates the session.
func UserAgentHash(secret []byte, userAgent string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(userAgent))
	return hex.EncodeToString(mac.Sum(nil))[:userAgentHashLen]
}

func signPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
