// Package auditlog mounts the vault-scoped audit read path. The log is
// append-only: no mutation or deletion endpoints exist.
package auditlog

import (
	"net/http"

	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts audit routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, cfg *config.Config, auth gin.HandlerFunc) {
	r.GET("/audit", auth, func(c *gin.Context) {
		list(c, store, cfg)
	})
}

func list(c *gin.Context, store registrystore.VaultStore, cfg *config.Config) {
	vaultID, err := uuid.Parse(c.Query("vaultId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid vaultId"})
		return
	}
	if _, _, err := security.Require(c.Request.Context(), store, vaultID, security.GetExternalUserID(c), nil); err != nil {
		routeutil.HandleError(c, err)
		return
	}

	limit := routeutil.QueryInt(c, "limit", cfg.AuditDefaultLimit)
	if limit <= 0 {
		limit = cfg.AuditDefaultLimit
	}
	if limit > cfg.AuditMaxLimit {
		limit = cfg.AuditMaxLimit
	}

	events, err := store.ListAudit(c.Request.Context(), vaultID, limit)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}
