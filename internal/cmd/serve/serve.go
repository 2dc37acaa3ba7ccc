package serve

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/vault-service/internal/plugin/blob/memstore"
	_ "github.com/chirino/vault-service/internal/plugin/blob/s3store"
	_ "github.com/chirino/vault-service/internal/plugin/cache/memory"
	_ "github.com/chirino/vault-service/internal/plugin/cache/noop"
	_ "github.com/chirino/vault-service/internal/plugin/cache/redis"
	_ "github.com/chirino/vault-service/internal/plugin/mail/logmail"
	_ "github.com/chirino/vault-service/internal/plugin/mail/smtp"
	_ "github.com/chirino/vault-service/internal/plugin/route/system"
	_ "github.com/chirino/vault-service/internal/plugin/store/sqlstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the vault service HTTP server",
		CustomHelpTemplate: cli.CommandHelpTemplate + `NOTES:
   The crypto secrets are environment-only (no flags, so they never appear in
   process listings):
   TOKEN_HASH_PEPPER, OTP_SECRET (alias OTP_HMAC_SECRET),
   VENDOR_EMAIL_HASH_SALT, VENDOR_SESSION_SECRET (falls back to OTP_SECRET or
   SESSION_SECRET).
`,
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if err := cfg.ValidateSecrets(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP listen port",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file; plaintext HTTP when unset",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode: prod or testing",
		},
		&cli.StringFlag{
			Name:        "app-url",
			Category:    "Server:",
			Sources:     cli.EnvVars("APP_URL"),
			Destination: &cfg.AppURL,
			Value:       cfg.AppURL,
			Usage:       "External base URL used in outbound link emails",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULT_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Log /health, /ready, /metrics requests (off by default to suppress probe noise)",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Datastore backend (postgres|sqlite)",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULT_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},

		// ── Blob store ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "blob-kind",
			Category:    "Blob store:",
			Sources:     cli.EnvVars("VAULT_SERVICE_BLOB_KIND"),
			Destination: &cfg.BlobType,
			Value:       cfg.BlobType,
			Usage:       "Blob store backend (s3|memory)",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Blob store:",
			Sources:     cli.EnvVars("S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket holding document ciphertext",
		},
		&cli.StringFlag{
			Name:        "s3-prefix",
			Category:    "Blob store:",
			Sources:     cli.EnvVars("S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix applied to every blob path",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Blob store:",
			Sources:     cli.EnvVars("S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (MinIO)",
		},
		&cli.StringFlag{
			Name:        "s3-external-endpoint",
			Category:    "Blob store:",
			Sources:     cli.EnvVars("S3_EXTERNAL_ENDPOINT"),
			Destination: &cfg.S3ExternalEndpoint,
			Usage:       "Externally reachable endpoint substituted into presigned URLs",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("VAULT_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Share-link lookup cache (redis|memory|none)",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("REDIS_URL", "VAULT_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis cache backend",
		},
		&cli.DurationFlag{
			Name:        "link-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("VAULT_SERVICE_LINK_CACHE_TTL"),
			Destination: &cfg.LinkCacheTTL,
			Value:       cfg.LinkCacheTTL,
			Usage:       "TTL for cached share-link lookups",
		},

		// ── Mail ──────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mail-kind",
			Category:    "Mail:",
			Sources:     cli.EnvVars("VAULT_SERVICE_MAIL_KIND"),
			Destination: &cfg.MailType,
			Value:       cfg.MailType,
			Usage:       "Mailer backend (smtp|log)",
		},

		// ── Identity provider ─────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Identity provider:",
			Sources:     cli.EnvVars("VAULT_SERVICE_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL for owner/delegate bearer tokens",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Identity provider:",
			Sources:     cli.EnvVars("VAULT_SERVICE_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "Internal URL for OIDC discovery when the issuer is not reachable",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("VAULT_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
