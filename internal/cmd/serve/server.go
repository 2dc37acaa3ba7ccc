package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/plugin/route/auditlog"
	"github.com/chirino/vault-service/internal/plugin/route/documents"
	"github.com/chirino/vault-service/internal/plugin/route/links"
	"github.com/chirino/vault-service/internal/plugin/route/shares"
	routesystem "github.com/chirino/vault-service/internal/plugin/route/system"
	"github.com/chirino/vault-service/internal/plugin/route/team"
	"github.com/chirino/vault-service/internal/plugin/route/vaults"
	"github.com/chirino/vault-service/internal/plugin/route/vendoraccess"
	registryblob "github.com/chirino/vault-service/internal/registry/blob"
	registrycache "github.com/chirino/vault-service/internal/registry/cache"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
	registrymigrate "github.com/chirino/vault-service/internal/registry/migrate"
	registryroute "github.com/chirino/vault-service/internal/registry/route"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	Store      registrystore.VaultStore
	Blob       registryblob.BlobStore
	Mailer     registrymail.Mailer
	Router     *gin.Engine
	Port       int
	httpServer *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting vault service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"blob", cfg.BlobType,
		"cache", cfg.CacheType,
		"mail", cfg.MailType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Initialize blob store
	blobLoader, err := registryblob.Select(cfg.BlobType)
	if err != nil {
		return nil, err
	}
	blobStore, err := blobLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize mailer
	mailLoader, err := registrymail.Select(cfg.MailType)
	if err != nil {
		return nil, err
	}
	mailer, err := mailLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	// Initialize the share-link lookup cache (optional).
	var linkCache registrycache.LinkCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if linkCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		linkCache = nil
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Management routes (health, ready, metrics).
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	// The vendor access engine is a parallel, token-authenticated path.
	engine := &vendoraccess.Engine{
		Store:  store,
		Blob:   blobStore,
		Mailer: mailer,
		Cache:  linkCache,
		Cfg:    cfg,
	}

	// Mount API routes.
	vaults.MountRoutes(router, store, auth)
	documents.MountRoutes(router, store, blobStore, cfg, auth)
	shares.MountRoutes(router, store, mailer, cfg, auth)
	links.MountRoutes(router, store, engine, auth)
	vendoraccess.MountRoutes(router, engine)
	team.MountRoutes(router, store, mailer, cfg, auth)
	auditlog.MountRoutes(router, store, cfg, auth)

	// Start HTTP
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		var serveErr error
		if cfg.Listener.TLSCertFile != "" && cfg.Listener.TLSKeyFile != "" {
			serveErr = httpServer.ServeTLS(lis, cfg.Listener.TLSCertFile, cfg.Listener.TLSKeyFile)
		} else {
			serveErr = httpServer.Serve(lis)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Error("HTTP server failed", "err", serveErr)
		}
	}()

	port := lis.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port, "tls", cfg.Listener.TLSCertFile != "")

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Blob:       blobStore,
		Mailer:     mailer,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
