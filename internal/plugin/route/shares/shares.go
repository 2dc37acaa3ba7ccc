// Package shares mounts the share-request state machine: creation,
// listing, approval, rejection, and cancellation. Approval consumes the
// crypto artifacts the owner's client prepared; the server validates and
// persists them but never sees the Vendor Secret after the outbound email
// is queued.
package shares

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/chirino/vault-service/internal/tokens"
	"github.com/chirino/vault-service/internal/vendorsecret"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts share-request routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, mailer registrymail.Mailer, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/share-requests", auth)

	g.POST("", func(c *gin.Context) {
		create(c, store)
	})
	g.GET("", func(c *gin.Context) {
		list(c, store)
	})
	g.GET("/:id", func(c *gin.Context) {
		get(c, store)
	})
	g.POST("/:id/approve", func(c *gin.Context) {
		approve(c, store, mailer, cfg)
	})
	g.POST("/:id/reject", func(c *gin.Context) {
		reject(c, store)
	})
	g.POST("/:id/cancel", func(c *gin.Context) {
		cancel(c, store)
	})
}

func create(c *gin.Context, store registrystore.VaultStore) {
	var req struct {
		VaultID           string           `json:"vaultId"`
		VendorLabel       string           `json:"vendorLabel" binding:"required"`
		VendorEmail       *string          `json:"vendorEmail"`
		PurposeNotes      *string          `json:"purposeNotes"`
		RequestedDocTypes model.DocTypeSet `json:"requestedDocTypes" binding:"required"`
		ExpiresAt         time.Time        `json:"expiresAt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if len(req.RequestedDocTypes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "requestedDocTypes must not be empty"})
		return
	}
	for _, d := range req.RequestedDocTypes {
		if !model.ValidDocType(d) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": fmt.Sprintf("invalid docType %q", d)})
			return
		}
	}
	if !req.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "expiresAt must be in the future"})
		return
	}

	profile, vault, access, ok := resolveVault(c, store, req.VaultID)
	if !ok {
		return
	}
	// Delegates may only request doc types their membership permits.
	if !req.RequestedDocTypes.SubsetOf(access.AllowedDocTypes) {
		audit.Emit(c, store, model.AuditEvent{
			VaultID:   vault.ID,
			ActorType: actorType(access.Role),
			ActorID:   profile.ID.String(),
			EventType: model.EventAccessDenied,
		})
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	now := time.Now()
	created, err := store.CreateShareRequest(c.Request.Context(), model.ShareRequest{
		ID:                 uuid.New(),
		VaultID:            vault.ID,
		CreatedByProfileID: profile.ID,
		VendorLabel:        req.VendorLabel,
		VendorEmail:        req.VendorEmail,
		PurposeNotes:       req.PurposeNotes,
		RequestedDocTypes:  req.RequestedDocTypes,
		ExpiresAt:          req.ExpiresAt,
		Status:             model.ShareRequestPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	audit.Emit(c, store, model.AuditEvent{
		VaultID:   vault.ID,
		ActorType: actorType(access.Role),
		ActorID:   profile.ID.String(),
		EventType: model.EventShareRequestCreated,
	})
	c.JSON(http.StatusOK, created)
}

func list(c *gin.Context, store registrystore.VaultStore) {
	_, vault, _, ok := resolveVault(c, store, c.Query("vaultId"))
	if !ok {
		return
	}
	reqs, err := store.ListShareRequests(c.Request.Context(), vault.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reqs})
}

func get(c *gin.Context, store registrystore.VaultStore) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "share request not found"})
		return
	}
	req, err := store.GetShareRequest(c.Request.Context(), id)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if _, _, err := security.Require(c.Request.Context(), store, req.VaultID, security.GetExternalUserID(c), nil); err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// dekWrap is one rewrapped DEK in the approval payload.
type dekWrap struct {
	DocumentID   string `json:"documentId"   binding:"required"`
	EncryptedDek string `json:"encryptedDek" binding:"required"`
	Nonce        string `json:"nonce"        binding:"required"`
}

func approve(c *gin.Context, store registrystore.VaultStore, mailer registrymail.Mailer, cfg *config.Config) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "share request not found"})
		return
	}
	var req struct {
		LskSalt               string    `json:"lskSalt"               binding:"required"`
		LskNonce              string    `json:"lskNonce"              binding:"required"`
		EncryptedLskForVendor string    `json:"encryptedLskForVendor" binding:"required"`
		EncryptedDekForLink   []dekWrap `json:"encryptedDekForLink"   binding:"required"`
		VendorSecret          string    `json:"vendorSecret"          binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}

	// Transcription-check the Vendor Secret before anything else; the server
	// only relays it to the outbound email and never stores it.
	vs, err := vendorsecret.Normalize(req.VendorSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid vendor secret"})
		return
	}

	lskSalt, err := base64.StdEncoding.DecodeString(req.LskSalt)
	if err != nil || len(lskSalt) != envelope.SaltSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "lskSalt must be 16 base64 bytes"})
		return
	}
	lskNonce, err := base64.StdEncoding.DecodeString(req.LskNonce)
	if err != nil || len(lskNonce) != envelope.NonceSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "lskNonce must be 12 base64 bytes"})
		return
	}
	wrappedLsk, err := base64.StdEncoding.DecodeString(req.EncryptedLskForVendor)
	if err != nil || len(wrappedLsk) != envelope.WrapBlobSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "encryptedLskForVendor must be a 60-byte wrap blob"})
		return
	}

	shareReq, err := store.GetShareRequest(c.Request.Context(), id)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	// Only owners may approve.
	ownerRole := model.RoleOwner
	profile, _, err := security.Require(c.Request.Context(), store, shareReq.VaultID, security.GetExternalUserID(c), &ownerRole)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if shareReq.Status != model.ShareRequestPending {
		c.JSON(http.StatusBadRequest, gin.H{"code": "conflict", "error": fmt.Sprintf("share request is %s", shareReq.Status)})
		return
	}
	if shareReq.VendorEmail == nil || *shareReq.VendorEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "share request has no vendor email"})
		return
	}

	// The wrap set must cover exactly the requested doc types, and every
	// document id must belong to this vault.
	vaultDocs, err := store.GetDocumentsByType(c.Request.Context(), shareReq.VaultID, shareReq.RequestedDocTypes)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if len(vaultDocs) != len(shareReq.RequestedDocTypes) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "vault is missing documents for the requested doc types"})
		return
	}
	if len(req.EncryptedDekForLink) != len(shareReq.RequestedDocTypes) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "encryptedDekForLink must cover exactly the requested doc types"})
		return
	}
	linkDocs := make([]model.ShareLinkDocument, 0, len(req.EncryptedDekForLink))
	seen := map[uuid.UUID]bool{}
	for _, w := range req.EncryptedDekForLink {
		docID, err := uuid.Parse(w.DocumentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid documentId"})
			return
		}
		wrapped, err := base64.StdEncoding.DecodeString(w.EncryptedDek)
		if err != nil || len(wrapped) != envelope.WrapBlobSize {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "encryptedDek must be a 60-byte wrap blob"})
			return
		}
		nonce, err := base64.StdEncoding.DecodeString(w.Nonce)
		if err != nil || len(nonce) != envelope.NonceSize {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "nonce must be 12 base64 bytes"})
			return
		}
		var docType model.DocType
		found := false
		for dt, d := range vaultDocs {
			if d.ID == docID {
				docType, found = dt, true
				break
			}
		}
		if !found || seen[docID] {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "documentId is not a requested vault document"})
			return
		}
		seen[docID] = true
		linkDocs = append(linkDocs, model.ShareLinkDocument{
			DocumentID:          docID,
			DocType:             docType,
			EncryptedDekForLink: wrapped,
			DekForLinkNonce:     nonce,
		})
	}

	token, err := tokens.New()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	now := time.Now()
	link, err := store.ApproveShareRequest(c.Request.Context(), shareReq.ID, model.ShareLink{
		ID:                    uuid.New(),
		VaultID:               shareReq.VaultID,
		ShareRequestID:        &shareReq.ID,
		CreatedByProfileID:    shareReq.CreatedByProfileID,
		ApprovedByProfileID:   profile.ID,
		Status:                model.ShareLinkApproved,
		VendorLabel:           shareReq.VendorLabel,
		VendorEmail:           *shareReq.VendorEmail,
		PurposeNotes:          shareReq.PurposeNotes,
		ExpiresAt:             shareReq.ExpiresAt,
		ApprovedAt:            now,
		TokenHash:             tokens.HashToken(cfg.TokenHashPepper, token),
		EncryptedLskForVendor: wrappedLsk,
		LskSalt:               lskSalt,
		LskNonce:              lskNonce,
	}, linkDocs)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	// One-shot emission of the plaintext token and Vendor Secret. A send
	// failure is logged, not rolled back: the owner can revoke and reissue.
	if err := mailer.Send(c.Request.Context(), approvalMessage(cfg.AppURL, link, token, vs)); err != nil {
		log.Error("Failed to send approval email", "linkId", link.ID.String(), "err", err)
	}

	audit.Emit(c, store, model.AuditEvent{
		VaultID:   shareReq.VaultID,
		ActorType: model.ActorOwner,
		ActorID:   profile.ID.String(),
		EventType: model.EventShareRequestApproved,
		LinkID:    &link.ID,
	})
	audit.Emit(c, store, model.AuditEvent{
		VaultID:   shareReq.VaultID,
		ActorType: model.ActorOwner,
		ActorID:   profile.ID.String(),
		EventType: model.EventLinkCreated,
		LinkID:    &link.ID,
	})
	c.JSON(http.StatusOK, gin.H{"linkId": link.ID.String(), "status": link.Status})
}

func approvalMessage(appURL string, link *model.ShareLink, token, vs string) registrymail.Message {
	body := fmt.Sprintf(
		"%s has shared documents with you.\n\n"+
			"Open the secure link:\n  %s/v/%s\n\n"+
			"Your access secret (keep it private, you will be asked for it after email verification):\n  %s\n\n"+
			"The link expires at %s.\n",
		link.VendorLabel, appURL, token, vendorsecret.Format(vs), link.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return registrymail.Message{
		To:      link.VendorEmail,
		Subject: "Documents shared with you",
		Body:    body,
	}
}

func reject(c *gin.Context, store registrystore.VaultStore) {
	transition(c, store, model.ShareRequestRejected)
}

func cancel(c *gin.Context, store registrystore.VaultStore) {
	transition(c, store, model.ShareRequestCancelled)
}

func transition(c *gin.Context, store registrystore.VaultStore, to model.ShareRequestStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "share request not found"})
		return
	}
	shareReq, err := store.GetShareRequest(c.Request.Context(), id)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	profile, access, err := security.Require(c.Request.Context(), store, shareReq.VaultID, security.GetExternalUserID(c), nil)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	switch to {
	case model.ShareRequestRejected:
		// Only owners reject.
		if access.Role != model.RoleOwner {
			c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return
		}
	case model.ShareRequestCancelled:
		// The creator or the owner may cancel.
		if access.Role != model.RoleOwner && shareReq.CreatedByProfileID != profile.ID {
			c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return
		}
	}

	updated, err := store.TransitionShareRequest(c.Request.Context(), id, model.ShareRequestPending, to)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if to == model.ShareRequestRejected {
		audit.Emit(c, store, model.AuditEvent{
			VaultID:   shareReq.VaultID,
			ActorType: actorType(access.Role),
			ActorID:   profile.ID.String(),
			EventType: model.EventShareRequestRejected,
		})
	}
	c.JSON(http.StatusOK, updated)
}

// resolveVault resolves the target vault from an explicit id (body/query) or
// the caller's own vault when absent, and checks membership.
func resolveVault(c *gin.Context, store registrystore.VaultStore, vaultIDParam string) (*model.UserProfile, *model.Vault, *model.Access, bool) {
	profile, err := store.EnsureProfile(c.Request.Context(), security.GetExternalUserID(c))
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, nil, false
	}
	if vaultIDParam != "" {
		vaultID, err := uuid.Parse(vaultIDParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid vaultId"})
			return nil, nil, nil, false
		}
		vault, err := store.GetVault(c.Request.Context(), vaultID)
		if err != nil {
			routeutil.HandleError(c, err)
			return nil, nil, nil, false
		}
		access, err := store.ResolveAccess(c.Request.Context(), vaultID, profile.ID)
		if err != nil {
			routeutil.HandleError(c, err)
			return nil, nil, nil, false
		}
		if access == nil {
			c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return nil, nil, nil, false
		}
		return profile, vault, access, true
	}
	vault, access, err := store.FindVaultForProfile(c.Request.Context(), profile.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, nil, false
	}
	return profile, vault, access, true
}

func actorType(role model.Role) model.ActorType {
	if role == model.RoleOwner {
		return model.ActorOwner
	}
	return model.ActorDelegate
}
