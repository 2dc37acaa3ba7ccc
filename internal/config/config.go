package config

import (
	"context"
	"fmt"
	"time"
)

// ListenerConfig holds the network/TLS settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the vault service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, X-User-ID/X-User-Email headers are accepted in place
	// of a verified bearer token, and cookies are not marked Secure.
	Mode string

	// Database
	DBURL                   string
	DatastoreType           string // "postgres" or "sqlite"
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Blob store backend type: "s3" or "memory".
	BlobType string

	// S3
	S3Bucket           string
	S3Prefix           string
	S3UsePathStyle     bool
	S3ExternalEndpoint string

	// Cache backend for share-link-by-token-hash lookups: "redis", "memory", or "none".
	CacheType    string
	RedisURL     string
	LinkCacheTTL time.Duration

	// Mail backend type: "smtp" or "log".
	MailType     string
	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	// AppURL is the external base URL used in outbound emails.
	AppURL string

	// Secrets. All are required in prod; serve refuses to start without them.
	// TokenHashPepper is mixed into share-link and invite token hashes.
	TokenHashPepper string
	// OTPSecret keys the HMAC over stored OTP hashes.
	OTPSecret string
	// VendorEmailHashSalt salts the address-book equality helper hash.
	VendorEmailHashSalt string
	// VendorSessionSecret signs vendor session cookies. Falls back to
	// OTPSecret / SESSION_SECRET when unset.
	VendorSessionSecret string

	// Vendor access tuning.
	OtpTTL           time.Duration
	OtpMaxAttempts   int
	VendorSessionTTL time.Duration
	SignedURLTTL     time.Duration

	// Invites expire this long after creation (hard cap 7 days).
	InviteTTL time.Duration

	// Audit read caps.
	AuditDefaultLimit int
	AuditMaxLimit     int

	// Upload ceiling for document ciphertext blobs (bytes).
	MaxUploadSize int64

	// Server
	Listener ListenerConfig
	// ManagementAccessLog enables access logging for /health, /ready, /metrics.
	ManagementAccessLog bool
	MaxBodySize         int64
	DrainTimeout        int // seconds

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		BlobType:                "s3",
		CacheType:               "none",
		LinkCacheTTL:            time.Minute,
		MailType:                "smtp",
		SMTPPort:                587,
		AppURL:                  "http://localhost:8080",
		OtpTTL:                  10 * time.Minute,
		OtpMaxAttempts:          5,
		VendorSessionTTL:        30 * time.Minute,
		SignedURLTTL:            5 * time.Minute,
		InviteTTL:               7 * 24 * time.Hour,
		AuditDefaultLimit:       100,
		AuditMaxLimit:           1000,
		MaxUploadSize:           25 * 1024 * 1024,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   50 * 1024 * 1024,
		DrainTimeout:  30,
		MetricsLabels: "service=vault-service",
	}
}

// SessionSecretBytes returns the cookie signing key, honoring the documented
// fallback chain (VENDOR_SESSION_SECRET, then OTP secret).
func (c *Config) SessionSecretBytes() []byte {
	if c.VendorSessionSecret != "" {
		return []byte(c.VendorSessionSecret)
	}
	return []byte(c.OTPSecret)
}

// SecureCookies reports whether vendor session cookies should carry the
// Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.Mode != ModeTesting
}

// ValidateSecrets checks that every required process secret is present.
// Called once at serve start; tests inject secrets through the struct.
func (c *Config) ValidateSecrets() error {
	if c.TokenHashPepper == "" {
		return fmt.Errorf("TOKEN_HASH_PEPPER is required")
	}
	if c.OTPSecret == "" {
		return fmt.Errorf("OTP_SECRET is required")
	}
	if c.VendorEmailHashSalt == "" {
		return fmt.Errorf("VENDOR_EMAIL_HASH_SALT is required")
	}
	if len(c.SessionSecretBytes()) == 0 {
		return fmt.Errorf("VENDOR_SESSION_SECRET is required")
	}
	return nil
}
