// Package documents mounts the three-phase document upload protocol
// (prepare, put blob, commit) and the owner-side read paths. The server only
// ever handles ciphertext; DEKs arrive pre-wrapped under the owner KEK.
package documents

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registryblob "github.com/chirino/vault-service/internal/registry/blob"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts document routes.
func MountRoutes(r *gin.Engine, store registrystore.VaultStore, blobStore registryblob.BlobStore, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/documents", auth)

	g.POST("/prepare-upload", func(c *gin.Context) {
		prepareUpload(c, store)
	})
	g.POST("/put-blob", func(c *gin.Context) {
		putBlob(c, store, blobStore, cfg)
	})
	g.POST("/commit-upload", func(c *gin.Context) {
		commitUpload(c, store, blobStore)
	})
	g.GET("", func(c *gin.Context) {
		list(c, store)
	})
	g.GET("/:id/download-info", func(c *gin.Context) {
		downloadInfo(c, store)
	})
	g.GET("/:id/ciphertext", func(c *gin.Context) {
		ciphertext(c, store, blobStore)
	})
}

// requireOwnerVault resolves the caller's vault and requires the owner role.
// Document writes and wrap-field reads are owner-only: delegates never hold
// the KEK, so there is nothing they could do with the wrapped DEKs.
func requireOwnerVault(c *gin.Context, store registrystore.VaultStore) (*model.UserProfile, *model.Vault, bool) {
	profile, err := store.EnsureProfile(c.Request.Context(), security.GetExternalUserID(c))
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, false
	}
	vault, access, err := store.FindVaultForProfile(c.Request.Context(), profile.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return nil, nil, false
	}
	if access.Role != model.RoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return nil, nil, false
	}
	return profile, vault, true
}

// StoragePath computes the canonical blob path for a document.
func StoragePath(vaultID uuid.UUID, docType model.DocType, docID uuid.UUID) string {
	return fmt.Sprintf("vaults/%s/%s/%s.bin", vaultID, docType, docID)
}

func prepareUpload(c *gin.Context, store registrystore.VaultStore) {
	var req struct {
		DocType  model.DocType `json:"docType"  binding:"required"`
		Filename string        `json:"filename" binding:"required"`
		Size     int64         `json:"size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if !model.ValidDocType(req.DocType) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid docType"})
		return
	}
	_, vault, ok := requireOwnerVault(c, store)
	if !ok {
		return
	}

	// No row is created yet; commit-upload owns the database transition.
	docID := uuid.New()
	c.JSON(http.StatusOK, gin.H{
		"docId":       docID.String(),
		"storagePath": StoragePath(vault.ID, req.DocType, docID),
	})
}

func putBlob(c *gin.Context, store registrystore.VaultStore, blobStore registryblob.BlobStore, cfg *config.Config) {
	var req struct {
		StoragePath string `json:"storagePath" binding:"required"`
		Blob        string `json:"blob"        binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	_, vault, ok := requireOwnerVault(c, store)
	if !ok {
		return
	}
	if !strings.HasPrefix(req.StoragePath, fmt.Sprintf("vaults/%s/", vault.ID)) {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	blob, err := base64.StdEncoding.DecodeString(req.Blob)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "blob must be base64"})
		return
	}
	if len(blob) < envelope.NonceSize+envelope.TagSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "blob shorter than envelope minimum"})
		return
	}
	if int64(len(blob)) > cfg.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "blob exceeds maximum upload size"})
		return
	}

	// Upsert: a retried upload after a failed commit lands on the same path.
	if err := blobStore.PutUpsert(c.Request.Context(), req.StoragePath, blob); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"storagePath": req.StoragePath, "size": len(blob)})
}

func commitUpload(c *gin.Context, store registrystore.VaultStore, blobStore registryblob.BlobStore) {
	var req struct {
		DocID                string        `json:"docId"                binding:"required"`
		DocType              model.DocType `json:"docType"              binding:"required"`
		StoragePath          string        `json:"storagePath"          binding:"required"`
		Filename             string        `json:"filename"             binding:"required"`
		Size                 int64         `json:"size"`
		CiphertextChecksum   string        `json:"ciphertextChecksum"   binding:"required"`
		EncryptedDekForOwner string        `json:"encryptedDekForOwner" binding:"required"`
		DekNonce             string        `json:"dekNonce"             binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	docID, err := uuid.Parse(req.DocID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid docId"})
		return
	}
	if !model.ValidDocType(req.DocType) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid docType"})
		return
	}
	wrappedDek, err := base64.StdEncoding.DecodeString(req.EncryptedDekForOwner)
	if err != nil || len(wrappedDek) != envelope.WrapBlobSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "encryptedDekForOwner must be a 60-byte wrap blob"})
		return
	}
	dekNonce, err := base64.StdEncoding.DecodeString(req.DekNonce)
	if err != nil || len(dekNonce) != envelope.NonceSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "dekNonce must be 12 base64 bytes"})
		return
	}

	profile, vault, ok := requireOwnerVault(c, store)
	if !ok {
		return
	}
	if req.StoragePath != StoragePath(vault.ID, req.DocType, docID) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "storagePath does not match docId"})
		return
	}

	// The commit step only transitions database rows; the blob was written in
	// the prior put step. Verify the stored bytes match what the client
	// checksummed before upload.
	blob, err := blobStore.Get(c.Request.Context(), req.StoragePath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "blob_mismatch", "error": "blob not found at storagePath; retry upload"})
		return
	}
	if envelope.Checksum(blob) != strings.ToLower(strings.TrimSpace(req.CiphertextChecksum)) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "blob_mismatch", "error": "ciphertext checksum mismatch; retry upload"})
		return
	}

	doc, replaced, err := store.CommitDocument(c.Request.Context(), model.Document{
		ID:                     docID,
		VaultID:                vault.ID,
		DocType:                req.DocType,
		StoragePath:            req.StoragePath,
		Filename:               req.Filename,
		Size:                   req.Size,
		CiphertextChecksum:     strings.ToLower(strings.TrimSpace(req.CiphertextChecksum)),
		EncryptedDekForOwner:   wrappedDek,
		DekNonce:               dekNonce,
		UploadedAt:             time.Now(),
		LastUpdatedByProfileID: profile.ID,
	})
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	docType := doc.DocType
	audit.Emit(c, store, model.AuditEvent{
		VaultID:   vault.ID,
		ActorType: model.ActorOwner,
		ActorID:   profile.ID.String(),
		EventType: model.EventDocumentUploaded,
		DocType:   &docType,
	})
	c.JSON(http.StatusOK, gin.H{"id": doc.ID.String(), "replaced": replaced})
}

func list(c *gin.Context, store registrystore.VaultStore) {
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
	docs, err := store.ListDocuments(c.Request.Context(), vault.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		if access.Role == model.RoleDelegate && !access.AllowedDocTypes.Contains(d.DocType) {
			continue
		}
		item := gin.H{
			"id":                 d.ID.String(),
			"docType":            d.DocType,
			"filename":           d.Filename,
			"size":               d.Size,
			"ciphertextChecksum": d.CiphertextChecksum,
			"uploadedAt":         d.UploadedAt.UTC().Format(time.RFC3339),
		}
		// Wrap fields are owner-only: useless and unnecessary for delegates.
		if access.Role == model.RoleOwner {
			item["storagePath"] = d.StoragePath
			item["encryptedDekForOwner"] = base64.StdEncoding.EncodeToString(d.EncryptedDekForOwner)
			item["dekNonce"] = base64.StdEncoding.EncodeToString(d.DekNonce)
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func downloadInfo(c *gin.Context, store registrystore.VaultStore) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "document not found"})
		return
	}
	_, vault, ok := requireOwnerVault(c, store)
	if !ok {
		return
	}
	doc, err := store.GetDocument(c.Request.Context(), vault.ID, docID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                   doc.ID.String(),
		"docType":              doc.DocType,
		"filename":             doc.Filename,
		"size":                 doc.Size,
		"storagePath":          doc.StoragePath,
		"ciphertextChecksum":   doc.CiphertextChecksum,
		"encryptedDekForOwner": base64.StdEncoding.EncodeToString(doc.EncryptedDekForOwner),
		"dekNonce":             base64.StdEncoding.EncodeToString(doc.DekNonce),
	})
}

func ciphertext(c *gin.Context, store registrystore.VaultStore, blobStore registryblob.BlobStore) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "document not found"})
		return
	}
	_, vault, ok := requireOwnerVault(c, store)
	if !ok {
		return
	}
	doc, err := store.GetDocument(c.Request.Context(), vault.ID, docID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	blob, err := blobStore.Get(c.Request.Context(), doc.StoragePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve ciphertext"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename+".enc"))
	c.Data(http.StatusOK, "application/octet-stream", blob)
}
