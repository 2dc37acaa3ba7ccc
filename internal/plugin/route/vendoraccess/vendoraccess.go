// Package vendoraccess mounts the token-authenticated vendor access engine. It is
// a parallel path to the owner/delegate authorization core: vendors carry no
// identity-provider credentials. The link token is the coarse capability;
// the OTP + Vendor Secret pair is the fine one.
package vendoraccess

import (
	"encoding/base64"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/audit"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/route/routeutil"
	registryblob "github.com/chirino/vault-service/internal/registry/blob"
	registrycache "github.com/chirino/vault-service/internal/registry/cache"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/chirino/vault-service/internal/tokens"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// uuidV4Pattern is the strict UUIDv4 shape required of watermark reference ids.
var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Engine carries the vendor path's collaborators.
type Engine struct {
	Store  registrystore.VaultStore
	Blob   registryblob.BlobStore
	Mailer registrymail.Mailer
	Cache  registrycache.LinkCache
	Cfg    *config.Config
}

// MountRoutes mounts vendor routes. No identity-provider auth middleware:
// every handler authenticates by token (and session where required).
func MountRoutes(r *gin.Engine, e *Engine) {
	g := r.Group("/vendor/:token")

	g.GET("/link-info", e.linkInfo)
	g.POST("/otp/send", e.sendOtp)
	g.POST("/otp/verify", e.verifyOtp)
	g.GET("/documents", e.documents)
	g.GET("/ciphertext-url", e.ciphertextURL)
	g.POST("/audit", e.revealAudit)
}

// ResolveLink resolves a plaintext token to an approved, live share link.
// Returns typed store errors: NotFoundError (unknown token), GoneError
// (revoked or expired), ForbiddenError (never-approved link).
func (e *Engine) ResolveLink(c *gin.Context, token string) (*model.ShareLink, error) {
	tokenHash := tokens.HashToken(e.Cfg.TokenHashPepper, token)

	var link *model.ShareLink
	if e.Cache != nil && e.Cache.Available() {
		cached, err := e.Cache.Get(c.Request.Context(), tokenHash)
		if err != nil {
			log.Warn("Link cache read failed", "err", err)
		}
		if cached != nil {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			link = cached
		} else if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}
	if link == nil {
		loaded, err := e.Store.GetShareLinkByTokenHash(c.Request.Context(), tokenHash)
		if err != nil {
			return nil, err
		}
		link = loaded
		if e.Cache != nil && e.Cache.Available() && link.Status == model.ShareLinkApproved {
			if err := e.Cache.Set(c.Request.Context(), tokenHash, *link, e.Cfg.LinkCacheTTL); err != nil {
				log.Warn("Link cache write failed", "err", err)
			}
		}
	}

	switch {
	case link.Status == model.ShareLinkRevoked:
		return nil, &registrystore.GoneError{Resource: "share link"}
	case link.Expired(time.Now()):
		return nil, &registrystore.GoneError{Resource: "share link"}
	case link.Status != model.ShareLinkApproved:
		return nil, &registrystore.ForbiddenError{}
	}
	return link, nil
}

func (e *Engine) linkInfo(c *gin.Context) {
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	docs, err := e.Store.ListShareLinkDocuments(c.Request.Context(), link.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	docTypes := make([]model.DocType, len(docs))
	for i, d := range docs {
		docTypes[i] = d.DocType
	}
	c.JSON(http.StatusOK, LinkInfo(link, docTypes))
}

// LinkInfo is the vendor-visible summary of a link: no secrets, no wrap
// material. Shared with the dual-mode /links/{id} endpoint.
func LinkInfo(link *model.ShareLink, docTypes []model.DocType) gin.H {
	return gin.H{
		"vendorLabel":  link.VendorLabel,
		"purposeNotes": link.PurposeNotes,
		"docTypes":     docTypes,
		"expiresAt":    link.ExpiresAt.UTC().Format(time.RFC3339),
		"status":       link.Status,
	}
}

func (e *Engine) sendOtp(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	if !tokens.EmailsEqual(req.Email, link.VendorEmail) {
		// The denial row hashes the *claimed* address under a fresh salt, so
		// denied attempts cannot be correlated with later challenges.
		freshSalt, saltErr := envelope.GenerateSalt()
		if saltErr == nil {
			e.emitVendorAudit(c, link, tokens.HashEmail(freshSalt, req.Email), model.EventAccessDenied, nil, nil)
		}
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	otp, err := tokens.NewOTP()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	otpSalt, err := envelope.GenerateSalt()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	emailSalt, err := envelope.GenerateSalt()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	now := time.Now()
	emailHash := tokens.HashEmail(emailSalt, req.Email)
	if _, err := e.Store.CreateOtpChallenge(c.Request.Context(), model.OtpChallenge{
		ID:              uuid.New(),
		ShareLinkID:     link.ID,
		VendorEmailHash: emailHash,
		EmailSalt:       emailSalt,
		OtpHash:         tokens.HashOTP([]byte(e.Cfg.OTPSecret), otp, otpSalt),
		OtpSalt:         otpSalt,
		Attempts:        0,
		ExpiresAt:       now.Add(e.Cfg.OtpTTL),
		CreatedAt:       now,
	}); err != nil {
		routeutil.HandleError(c, err)
		return
	}

	if err := e.Mailer.Send(c.Request.Context(), registrymail.Message{
		To:      link.VendorEmail,
		Subject: "Your verification code",
		Body:    "Your verification code is: " + otp + "\n\nIt expires in " + e.Cfg.OtpTTL.String() + ".\n",
	}); err != nil {
		// The challenge stands; the vendor retries and a fresh OTP is sent.
		log.Error("Failed to send OTP email", "linkId", link.ID.String(), "err", err)
	}

	e.emitVendorAudit(c, link, emailHash, model.EventOtpSent, nil, nil)
	c.JSON(http.StatusOK, gin.H{"status": "sent", "expiresInSeconds": int(e.Cfg.OtpTTL.Seconds())})
}

func (e *Engine) verifyOtp(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Otp   string `json:"otp"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	// Multiple concurrent challenges may exist; the claimant's is the one
	// whose salted email hash matches.
	challenges, err := e.Store.ListActiveOtpChallenges(c.Request.Context(), link.ID, time.Now())
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	var challenge *model.OtpChallenge
	for i := range challenges {
		if tokens.HashEmail(challenges[i].EmailSalt, req.Email) == challenges[i].VendorEmailHash {
			challenge = &challenges[i]
			break
		}
	}
	if challenge == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "no active challenge"})
		return
	}

	if challenge.Attempts >= e.Cfg.OtpMaxAttempts {
		e.emitVendorAudit(c, link, challenge.VendorEmailHash, model.EventAccessDenied, nil, nil)
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "Maximum attempts exceeded"})
		return
	}
	// Count the attempt before comparing, so a crash between the two never
	// grants a free guess.
	if _, err := e.Store.IncrementOtpAttempts(c.Request.Context(), challenge.ID); err != nil {
		routeutil.HandleError(c, err)
		return
	}

	if !tokens.VerifyOTP([]byte(e.Cfg.OTPSecret), req.Otp, challenge.OtpSalt, challenge.OtpHash) {
		e.emitVendorAudit(c, link, challenge.VendorEmailHash, model.EventAccessDenied, nil, nil)
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "invalid code"})
		return
	}

	secret := e.Cfg.SessionSecretBytes()
	expiresAt := time.Now().Add(e.Cfg.VendorSessionTTL)
	cookie, err := security.SignVendorSession(secret, security.VendorSession{
		ShareLinkID:     link.ID,
		VendorEmailHash: challenge.VendorEmailHash,
		UserAgentHash:   security.UserAgentHash(secret, c.Request.UserAgent()),
		ExpiresAt:       expiresAt.Unix(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(security.VendorSessionCookie, cookie, int(e.Cfg.VendorSessionTTL.Seconds()), "/", "", e.Cfg.SecureCookies(), true)

	e.emitVendorAudit(c, link, challenge.VendorEmailHash, model.EventOtpVerified, nil, nil)
	c.JSON(http.StatusOK, gin.H{"status": "verified", "sessionExpiresAt": expiresAt.UTC().Format(time.RFC3339)})
}

// requireSession validates the vendor session cookie against the signing
// secret, the presenting user agent, and the link being addressed.
func (e *Engine) requireSession(c *gin.Context, link *model.ShareLink) (*security.VendorSession, bool) {
	cookie, err := c.Cookie(security.VendorSessionCookie)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "session required"})
		return nil, false
	}
	session, err := security.ValidateVendorSession(e.Cfg.SessionSecretBytes(), cookie, c.Request.UserAgent(), time.Now())
	if err != nil {
		if errors.Is(err, security.ErrBadSession) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "session required"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	if session.ShareLinkID != link.ID {
		e.emitVendorAudit(c, link, session.VendorEmailHash, model.EventAccessDenied, nil, nil)
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return nil, false
	}
	return session, true
}

func (e *Engine) documents(c *gin.Context) {
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if _, ok := e.requireSession(c, link); !ok {
		return
	}

	linkDocs, err := e.Store.ListShareLinkDocuments(c.Request.Context(), link.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}

	items := make([]gin.H, 0, len(linkDocs))
	for _, ld := range linkDocs {
		doc, err := e.Store.GetDocument(c.Request.Context(), link.VaultID, ld.DocumentID)
		if err != nil {
			routeutil.HandleError(c, err)
			return
		}
		items = append(items, gin.H{
			"documentId":          ld.DocumentID.String(),
			"docType":             ld.DocType,
			"filename":            doc.Filename,
			"size":                doc.Size,
			"storagePath":         doc.StoragePath,
			"encryptedDekForLink": base64.StdEncoding.EncodeToString(ld.EncryptedDekForLink),
			"dekForLinkNonce":     base64.StdEncoding.EncodeToString(ld.DekForLinkNonce),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data":                  items,
		"lskSalt":               base64.StdEncoding.EncodeToString(link.LskSalt),
		"lskNonce":              base64.StdEncoding.EncodeToString(link.LskNonce),
		"encryptedLskForVendor": base64.StdEncoding.EncodeToString(link.EncryptedLskForVendor),
	})
}

func (e *Engine) ciphertextURL(c *gin.Context) {
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	if _, ok := e.requireSession(c, link); !ok {
		return
	}
	docID, err := uuid.Parse(c.Query("docId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid docId"})
		return
	}

	linkDocs, err := e.Store.ListShareLinkDocuments(c.Request.Context(), link.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	included := false
	for _, ld := range linkDocs {
		if ld.DocumentID == docID {
			included = true
			break
		}
	}
	if !included {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	doc, err := e.Store.GetDocument(c.Request.Context(), link.VaultID, docID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	// Once minted, the URL lives until its own expiry even if the link is
	// revoked in the meantime.
	signed, err := e.Blob.SignedGet(c.Request.Context(), doc.StoragePath, e.Cfg.SignedURLTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       signed.URL,
		"expiresAt": signed.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (e *Engine) revealAudit(c *gin.Context) {
	var req struct {
		EventType            model.EventType `json:"eventType"            binding:"required"`
		DocType              model.DocType   `json:"docType"              binding:"required"`
		WatermarkReferenceID string          `json:"watermarkReferenceId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	link, err := e.ResolveLink(c, c.Param("token"))
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	session, ok := e.requireSession(c, link)
	if !ok {
		return
	}

	if !model.IsRevealEvent(req.EventType) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "eventType must be doc_viewed or doc_downloaded"})
		return
	}
	if !model.ValidDocType(req.DocType) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid docType"})
		return
	}
	if !uuidV4Pattern.MatchString(req.WatermarkReferenceID) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "watermarkReferenceId must be a UUIDv4"})
		return
	}

	linkDocs, err := e.Store.ListShareLinkDocuments(c.Request.Context(), link.ID)
	if err != nil {
		routeutil.HandleError(c, err)
		return
	}
	covered := false
	for _, ld := range linkDocs {
		if ld.DocType == req.DocType {
			covered = true
			break
		}
	}
	if !covered {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
		return
	}

	docType := req.DocType
	watermark := req.WatermarkReferenceID
	e.emitVendorAudit(c, link, session.VendorEmailHash, req.EventType, &docType, &watermark)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (e *Engine) emitVendorAudit(c *gin.Context, link *model.ShareLink, actorID string, eventType model.EventType, docType *model.DocType, watermark *string) {
	linkID := link.ID
	audit.Emit(c, e.Store, model.AuditEvent{
		VaultID:              link.VaultID,
		ActorType:            model.ActorVendor,
		ActorID:              actorID,
		EventType:            eventType,
		LinkID:               &linkID,
		DocType:              docType,
		WatermarkReferenceID: watermark,
	})
}
