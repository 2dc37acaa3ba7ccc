// Package team mounts delegate invitations and membership listing. Invites
// are bearer-token URLs; only the peppered token hash is stored. Acceptance
// binds an authenticated identity to the vault at the delegate role.
package team

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/chirino/vault-service/internal/tokens"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts team routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, mailer registrymail.Mailer, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/team", auth)

	g.POST("/invites", func(c *gin.Context) {
		createInvite(c, store, mailer, cfg)
	})
	g.GET("/invites/:token/accept", func(c *gin.Context) {
		showInvite(c, store, cfg)
	})
	g.POST("/invites/:token/accept", func(c *gin.Context) {
		acceptInvite(c, store, cfg)
	})
	g.GET("/members", func(c *gin.Context) {
		listMembers(c, store)
	})
}

func createInvite(c *gin.Context, store registrystore.VaultStore, mailer registrymail.Mailer, cfg *config.Config) {
	var req struct {
		InvitedEmail    string           `json:"invitedEmail"    binding:"required"`
		AllowedDocTypes model.DocTypeSet `json:"allowedDocTypes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if len(req.AllowedDocTypes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "allowedDocTypes must not be empty"})
		return
	}
	for _, d := range req.AllowedDocTypes {
		if !model.ValidDocType(d) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": fmt.Sprintf("invalid docType %q", d)})
			return
		}
	}

	// Only the owner invites delegates.
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
	if access.Role != model.RoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	token, err := tokens.New()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ttl := cfg.InviteTTL
	if ttl <= 0 || ttl > 7*24*time.Hour {
		ttl = 7 * 24 * time.Hour
	}

	now := time.Now()
	inv, err := store.CreateInvite(c.Request.Context(), model.TeamInvite{
		ID:              uuid.New(),
		VaultID:         vault.ID,
		InvitedEmail:    tokens.NormalizeEmail(req.InvitedEmail),
		Role:            model.RoleDelegate,
		AllowedDocTypes: req.AllowedDocTypes,
		TokenHash:       tokens.HashToken(cfg.TokenHashPepper, token),
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	if err := mailer.Send(c.Request.Context(), registrymail.Message{
		To:      inv.InvitedEmail,
		Subject: "You have been invited to a document vault",
		Body: fmt.Sprintf(
			"You have been invited as a delegate.\n\nAccept the invitation:\n  %s/team/invites/%s/accept\n\nThe invitation expires at %s.\n",
			cfg.AppURL, token, inv.ExpiresAt.UTC().Format(time.RFC3339),
		),
	}); err != nil {
		log.Error("Failed to send invite email", "inviteId", inv.ID.String(), "err", err)
	}

	audit.Emit(c, store, model.AuditEvent{
		VaultID:   vault.ID,
		ActorType: model.ActorOwner,
		ActorID:   profile.ID.String(),
		EventType: model.EventInviteCreated,
	})
	c.JSON(http.StatusOK, gin.H{"id": inv.ID.String(), "expiresAt": inv.ExpiresAt.UTC().Format(time.RFC3339)})
}

// resolveInvite loads the invite addressed by the bearer token and verifies
// the caller is its addressee.
func resolveInvite(c *gin.Context, store registrystore.VaultStore, cfg *config.Config) (*model.TeamInvite, *model.UserProfile, bool) {
	inv, err := store.GetInviteByTokenHash(c.Request.Context(), tokens.HashToken(cfg.TokenHashPepper, c.Param("token")))
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, false
	}
	profile, err := store.EnsureProfile(c.Request.Context(), security.GetExternalUserID(c))
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, false
	}
	if !tokens.EmailsEqual(security.GetUserEmail(c), inv.InvitedEmail) {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return nil, nil, false
	}
	return inv, profile, true
}

func showInvite(c *gin.Context, store registrystore.VaultStore, cfg *config.Config) {
	inv, _, ok := resolveInvite(c, store, cfg)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vaultId":         inv.VaultID.String(),
		"invitedEmail":    inv.InvitedEmail,
		"role":            inv.Role,
		"allowedDocTypes": inv.AllowedDocTypes,
		"expiresAt":       inv.ExpiresAt.UTC().Format(time.RFC3339),
		"accepted":        inv.AcceptedAt != nil,
	})
}

func acceptInvite(c *gin.Context, store registrystore.VaultStore, cfg *config.Config) {
	inv, profile, ok := resolveInvite(c, store, cfg)
	if !ok {
		return
	}
	now := time.Now()
	if now.After(inv.ExpiresAt) {
		c.JSON(http.StatusGone, gin.H{"code": "gone", "error": "invitation has expired"})
		return
	}

	membership, err := store.AcceptInvite(c.Request.Context(), inv.ID, profile.ID, now)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	audit.Emit(c, store, model.AuditEvent{
		VaultID:   inv.VaultID,
		ActorType: model.ActorDelegate,
		ActorID:   profile.ID.String(),
		EventType: model.EventInviteAccepted,
	})
	c.JSON(http.StatusOK, membership)
}

func listMembers(c *gin.Context, store registrystore.VaultStore) {
	vaultID, err := uuid.Parse(c.Query("vaultId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid vaultId"})
		return
	}
	if _, _, err := security.Require(c.Request.Context(), store, vaultID, security.GetExternalUserID(c), nil); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	memberships, err := store.ListMemberships(c.Request.Context(), vaultID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": memberships})
}
