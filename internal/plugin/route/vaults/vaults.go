// Package vaults mounts the vault lifecycle routes: initialization and the
// status endpoint owners unlock against. Unlocking itself is client-side
// only; the server never sees the password or the KEK.
package vaults

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts vault routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, auth gin.HandlerFunc) {
	g := r.Group("/vault", auth)

	g.POST("/init", func(c *gin.Context) {
		initVault(c, store)
	})
	g.GET("/status", func(c *gin.Context) {
		status(c, store)
	})
}

func initVault(c *gin.Context, store registrystore.VaultStore) {
	var req struct {
		KdfSalt   string             `json:"kdfSalt"   binding:"required"`
		KdfParams envelope.KdfParams `json:"kdfParams" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	salt, err := base64.StdEncoding.DecodeString(req.KdfSalt)
	if err != nil || len(salt) != envelope.SaltSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "kdfSalt must be 16 base64 bytes"})
		return
	}
	if err := req.KdfParams.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "unacceptable KDF parameters"})
		return
	}

	profile, err := store.EnsureProfile(c.Request.Context(), security.GetExternalUserID(c))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	now := time.Now()
	vault, err := store.CreateVault(c.Request.Context(), model.Vault{
		ID:             uuid.New(),
		OwnerProfileID: profile.ID,
		KdfSalt:        salt,
		KdfParams:      req.KdfParams,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": vault.ID.String()})
}

func status(c *gin.Context, store registrystore.VaultStore) {
	profile, err := store.EnsureProfile(c.Request.Context(), security.GetExternalUserID(c))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	vault, access, err := store.FindVaultForProfile(c.Request.Context(), profile.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	if access.Role == model.RoleOwner {
		// The status fetch is the owner's unlock prerequisite: it is the only
		// way the client obtains the salt and KDF parameters.
		audit.Emit(c, store, model.AuditEvent{
			VaultID:   vault.ID,
			ActorType: model.ActorOwner,
			ActorID:   profile.ID.String(),
			EventType: model.EventVaultUnlocked,
		})
		c.JSON(http.StatusOK, gin.H{
			"id":        vault.ID.String(),
			"kdfSalt":   base64.StdEncoding.EncodeToString(vault.KdfSalt),
			"kdfParams": vault.KdfParams,
			"role":      model.RoleOwner,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":   vault.ID.String(),
		"role": model.RoleDelegate,
	})
}
