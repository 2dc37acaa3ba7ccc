package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads the environment keys the deployment surface documents,
// including the historical aliases (OTP_HMAC_SECRET, SESSION_SECRET) that are
// not represented by dedicated CLI flags.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	applyStringEnv("TOKEN_HASH_PEPPER", &c.TokenHashPepper)
	applyStringEnv("OTP_SECRET", &c.OTPSecret)
	if c.OTPSecret == "" {
		applyStringEnv("OTP_HMAC_SECRET", &c.OTPSecret)
	}
	applyStringEnv("VENDOR_EMAIL_HASH_SALT", &c.VendorEmailHashSalt)
	applyStringEnv("VENDOR_SESSION_SECRET", &c.VendorSessionSecret)
	if c.VendorSessionSecret == "" {
		applyStringEnv("SESSION_SECRET", &c.VendorSessionSecret)
	}

	if err := applySecondsEnv("OTP_TTL_SECONDS", &c.OtpTTL); err != nil {
		return err
	}
	if err := applySecondsEnv("VENDOR_SESSION_TTL_SECONDS", &c.VendorSessionTTL); err != nil {
		return err
	}
	if err := applySecondsEnv("SIGNED_URL_TTL_SECONDS", &c.SignedURLTTL); err != nil {
		return err
	}

	applyStringEnv("APP_URL", &c.AppURL)
	applyStringEnv("S3_BUCKET", &c.S3Bucket)
	applyStringEnv("S3_PREFIX", &c.S3Prefix)
	applyStringEnv("S3_EXTERNAL_ENDPOINT", &c.S3ExternalEndpoint)
	if err := applyBoolEnv("S3_USE_PATH_STYLE", &c.S3UsePathStyle); err != nil {
		return err
	}

	applyStringEnv("SMTP_HOST", &c.SMTPHost)
	if err := applyIntEnv("SMTP_PORT", &c.SMTPPort); err != nil {
		return err
	}
	applyStringEnv("SMTP_FROM", &c.SMTPFrom)
	applyStringEnv("SMTP_USERNAME", &c.SMTPUsername)
	applyStringEnv("SMTP_PASSWORD", &c.SMTPPassword)

	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applySecondsEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fmt.Errorf("invalid %s: expected positive seconds", key)
	}
	*dest = time.Duration(secs) * time.Second
	return nil
}
