// Package links mounts the authenticated share-link routes: listing,
// inspection, and revocation. GET /links/{id} is dual-mode: a UUID routes to
// the authenticated owner/delegate view; anything else is treated as a
// vendor token and answered with the vendor link summary.
package links

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	"github.com/chirino/vault-service/internal/plugin/route/vendoraccess"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts share-link routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, engine *vendoraccess.Engine, auth gin.HandlerFunc) {
	r.GET("/links", auth, func(c *gin.Context) {
		list(c, store)
	})
	r.GET("/links/:id", func(c *gin.Context) {
		getDual(c, store, engine, auth)
	})
	r.POST("/links/:id/revoke", auth, func(c *gin.Context) {
		revoke(c, store, engine)
	})
}

func list(c *gin.Context, store registrystore.VaultStore) {
	vaultID, err := uuid.Parse(c.Query("vaultId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid vaultId"})
		return
	}
	if _, _, err := security.Require(c.Request.Context(), store, vaultID, security.GetExternalUserID(c), nil); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	links, err := store.ListShareLinks(c.Request.Context(), vaultID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": links})
}

func getDual(c *gin.Context, store registrystore.VaultStore, engine *vendoraccess.Engine, auth gin.HandlerFunc) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// Not a UUID: treat the path segment as a vendor token.
		link, err := engine.ResolveLink(c, c.Param("id"))
		if err != nil {
			routeutil.HandleError(c, err)
			return
		}
		docs, err := engine.Store.ListShareLinkDocuments(c.Request.Context(), link.ID)
		if err != nil {
			routeutil.HandleError(c, err)
			return
		}
		docTypes := make([]model.DocType, len(docs))
		for i, d := range docs {
			docTypes[i] = d.DocType
		}
		c.JSON(http.StatusOK, vendoraccess.LinkInfo(link, docTypes))
		return
	}

	auth(c)
	if c.IsAborted() {
		return
	}
	link, err := store.GetShareLink(c.Request.Context(), id)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if _, _, err := security.Require(c.Request.Context(), store, link.VaultID, security.GetExternalUserID(c), nil); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func revoke(c *gin.Context, store registrystore.VaultStore, engine *vendoraccess.Engine) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "share link not found"})
		return
	}
	link, err := store.GetShareLink(c.Request.Context(), id)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	profile, access, err := security.Require(c.Request.Context(), store, link.VaultID, security.GetExternalUserID(c), nil)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	// Owners revoke any link; delegates only links they created or links
	// produced from their own requests.
	if access.Role != model.RoleOwner {
		allowed := link.CreatedByProfileID == profile.ID
		if !allowed && link.ShareRequestID != nil {
			if req, err := store.GetShareRequest(c.Request.Context(), *link.ShareRequestID); err == nil {
				allowed = req.CreatedByProfileID == profile.ID
			}
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return
		}
	}

	alreadyRevoked := link.Status == model.ShareLinkRevoked
	revoked, err := store.RevokeShareLink(c.Request.Context(), id, time.Now())
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	// Drop the vendor-path cache entry so revocation takes effect immediately.
	if engine != nil && engine.Cache != nil && engine.Cache.Available() {
		if err := engine.Cache.Remove(c.Request.Context(), link.TokenHash); err != nil {
			log.Warn("Link cache invalidation failed", "linkId", id.String(), "err", err)
		}
	}

	if !alreadyRevoked {
		linkID := revoked.ID
		audit.Emit(c, store, model.AuditEvent{
			VaultID:   link.VaultID,
			ActorType: actorType(access.Role),
			ActorID:   profile.ID.String(),
			EventType: model.EventLinkRevoked,
			LinkID:    &linkID,
		})
	}
	c.JSON(http.StatusOK, revoked)
}

func actorType(role model.Role) model.ActorType {
	if role == model.RoleOwner {
		return model.ActorOwner
	}
	return model.ActorDelegate
}
