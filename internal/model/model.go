package model

import (
	"time"

	"github.com/chirino/vault-service/internal/envelope"
	"github.com/google/uuid"
)

// DocType identifies the kind of identity document held in a vault.
// A vault holds at most one document per type.
type DocType string

const (
	DocTypeID             DocType = "ID"
	DocTypeProofOfAddress DocType = "ProofOfAddress"
	DocTypeSourceOfWealth DocType = "SourceOfWealth"
)

// AllDocTypes lists every valid document type.
func AllDocTypes() DocTypeSet {
	return DocTypeSet{DocTypeID, DocTypeProofOfAddress, DocTypeSourceOfWealth}
}

// ValidDocType reports whether d is a known document type.
func ValidDocType(d DocType) bool {
	switch d {
	case DocTypeID, DocTypeProofOfAddress, DocTypeSourceOfWealth:
		return true
	}
	return false
}

// Role is the resolved relationship between a user and a vault.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleDelegate Role = "delegate"
)

// ShareRequestStatus is the lifecycle state of a share request.
type ShareRequestStatus string

const (
	ShareRequestPending   ShareRequestStatus = "pending"
	ShareRequestApproved  ShareRequestStatus = "approved"
	ShareRequestRejected  ShareRequestStatus = "rejected"
	ShareRequestCancelled ShareRequestStatus = "cancelled"
)

// ShareLinkStatus is the lifecycle state of a share link.
type ShareLinkStatus string

const (
	ShareLinkPending  ShareLinkStatus = "pending"
	ShareLinkApproved ShareLinkStatus = "approved"
	ShareLinkRevoked  ShareLinkStatus = "revoked"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorOwner    ActorType = "owner"
	ActorDelegate ActorType = "delegate"
	ActorVendor   ActorType = "vendor"
	ActorSystem   ActorType = "system"
)

// EventType enumerates every audit event the service records.
type EventType string

const (
	EventVaultUnlocked        EventType = "vault_unlocked"
	EventDocumentUploaded     EventType = "document_uploaded"
	EventShareRequestCreated  EventType = "share_request_created"
	EventShareRequestApproved EventType = "share_request_approved"
	EventShareRequestRejected EventType = "share_request_rejected"
	EventLinkCreated          EventType = "link_created"
	EventLinkRevoked          EventType = "link_revoked"
	EventInviteCreated        EventType = "invite_created"
	EventInviteAccepted       EventType = "invite_accepted"
	EventOtpSent              EventType = "otp_sent"
	EventOtpVerified          EventType = "otp_verified"
	EventAccessDenied         EventType = "access_denied"
	EventDocViewed            EventType = "doc_viewed"
	EventDocDownloaded        EventType = "doc_downloaded"
)

// IsRevealEvent reports whether e is a reveal event that must carry a
// watermark reference id.
func IsRevealEvent(e EventType) bool {
	return e == EventDocViewed || e == EventDocDownloaded
}

// UserProfile maps an identity-provider user to an internal profile id.
// Created on first authenticated action; never deleted.
type UserProfile struct {
	ID             uuid.UUID `json:"id"             gorm:"primaryKey;type:uuid"`
	ExternalUserID string    `json:"externalUserId" gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"not null"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// Vault is the per-owner container of encrypted documents. The KDF salt and
// parameters are public but required to derive the owner's KEK; they are
// immutable after creation.
type Vault struct {
	ID             uuid.UUID          `json:"id"             gorm:"primaryKey;type:uuid"`
	OwnerProfileID uuid.UUID          `json:"ownerProfileId" gorm:"uniqueIndex;not null;type:uuid"`
	KdfSalt        []byte             `json:"-"              gorm:"type:bytea;not null"`
	KdfParams      envelope.KdfParams `json:"kdfParams"      gorm:"embedded;embeddedPrefix:kdf_"`
	CreatedAt      time.Time          `json:"createdAt"      gorm:"not null"`
	UpdatedAt      time.Time          `json:"updatedAt"      gorm:"not null"`
}

func (Vault) TableName() string { return "vaults" }

// Document is one encrypted document in a vault. (VaultID, DocType) is unique:
// committing a new document of an existing type replaces its predecessor.
// Only ciphertext is persisted; the DEK is stored wrapped under the owner KEK.
type Document struct {
	ID                     uuid.UUID `json:"id"                     gorm:"primaryKey;type:uuid"`
	VaultID                uuid.UUID `json:"vaultId"                gorm:"not null;type:uuid;uniqueIndex:idx_documents_vault_doctype,priority:1"`
	DocType                DocType   `json:"docType"                gorm:"not null;uniqueIndex:idx_documents_vault_doctype,priority:2"`
	StoragePath            string    `json:"storagePath"            gorm:"not null"`
	Filename               string    `json:"filename"               gorm:"not null"`
	Size                   int64     `json:"size"                   gorm:"not null"`
	CiphertextChecksum     string    `json:"ciphertextChecksum"     gorm:"not null"`
	EncryptedDekForOwner   []byte    `json:"-"                      gorm:"type:bytea;not null"`
	DekNonce               []byte    `json:"-"                      gorm:"type:bytea;not null"`
	UploadedAt             time.Time `json:"uploadedAt"             gorm:"not null"`
	LastUpdatedByProfileID uuid.UUID `json:"lastUpdatedByProfileId" gorm:"not null;type:uuid"`
}

func (Document) TableName() string { return "documents" }

// DocTypeSet is a JSON-serialized subset of document types, used for
// share-request scopes and delegate permissions.
type DocTypeSet []DocType

// Contains reports whether the set includes d.
func (s DocTypeSet) Contains(d DocType) bool {
	for _, v := range s {
		if v == d {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every element of s is in other.
func (s DocTypeSet) SubsetOf(other DocTypeSet) bool {
	for _, v := range s {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// ShareRequest is a delegate- or owner-initiated request to share a subset of
// the vault's documents with an external vendor.
type ShareRequest struct {
	ID                 uuid.UUID          `json:"id"                 gorm:"primaryKey;type:uuid"`
	VaultID            uuid.UUID          `json:"vaultId"            gorm:"not null;type:uuid;index"`
	CreatedByProfileID uuid.UUID          `json:"createdByProfileId" gorm:"not null;type:uuid"`
	VendorLabel        string             `json:"vendorLabel"        gorm:"not null"`
	VendorEmail        *string            `json:"vendorEmail,omitempty"`
	PurposeNotes       *string            `json:"purposeNotes,omitempty"`
	RequestedDocTypes  DocTypeSet         `json:"requestedDocTypes"  gorm:"type:jsonb;serializer:json;not null"`
	ExpiresAt          time.Time          `json:"expiresAt"          gorm:"not null"`
	Status             ShareRequestStatus `json:"status"             gorm:"not null"`
	CreatedAt          time.Time          `json:"createdAt"          gorm:"not null"`
	UpdatedAt          time.Time          `json:"updatedAt"          gorm:"not null"`
}

func (ShareRequest) TableName() string { return "share_requests" }

// ShareLink is an approved, token-addressed grant of vendor access. The
// plaintext token is emitted exactly once in the approval email; only its
// peppered hash is stored. The LSK is stored wrapped under a key derived from
// the Vendor Secret, which the server never sees.
type ShareLink struct {
	ID                    uuid.UUID       `json:"id"                  gorm:"primaryKey;type:uuid"`
	VaultID               uuid.UUID       `json:"vaultId"             gorm:"not null;type:uuid;index"`
	ShareRequestID        *uuid.UUID      `json:"shareRequestId,omitempty" gorm:"type:uuid"`
	CreatedByProfileID    uuid.UUID       `json:"createdByProfileId"  gorm:"not null;type:uuid"`
	ApprovedByProfileID   uuid.UUID       `json:"approvedByProfileId" gorm:"not null;type:uuid"`
	Status                ShareLinkStatus `json:"status"              gorm:"not null"`
	VendorLabel           string          `json:"vendorLabel"         gorm:"not null"`
	VendorEmail           string          `json:"vendorEmail"         gorm:"not null"`
	PurposeNotes          *string         `json:"purposeNotes,omitempty"`
	ExpiresAt             time.Time       `json:"expiresAt"           gorm:"not null"`
	ApprovedAt            time.Time       `json:"approvedAt"          gorm:"not null"`
	RevokedAt             *time.Time      `json:"revokedAt,omitempty"`
	TokenHash             string          `json:"-"                   gorm:"uniqueIndex;not null"`
	EncryptedLskForVendor []byte          `json:"-"                   gorm:"type:bytea;not null"`
	LskSalt               []byte          `json:"-"                   gorm:"type:bytea;not null"`
	LskNonce              []byte          `json:"-"                   gorm:"type:bytea;not null"`
}

func (ShareLink) TableName() string { return "share_links" }

// Expired reports whether the link's validity window has passed.
func (l *ShareLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// ShareLinkDocument carries one document's DEK rewrapped under the link's LSK.
type ShareLinkDocument struct {
	ShareLinkID         uuid.UUID `json:"shareLinkId" gorm:"primaryKey;type:uuid"`
	DocumentID          uuid.UUID `json:"documentId"  gorm:"primaryKey;type:uuid"`
	DocType             DocType   `json:"docType"     gorm:"not null"`
	EncryptedDekForLink []byte    `json:"-"           gorm:"type:bytea;not null"`
	DekForLinkNonce     []byte    `json:"-"           gorm:"type:bytea;not null"`
}

func (ShareLinkDocument) TableName() string { return "share_link_documents" }

// TeamMembership grants a delegate scoped access to a vault. The owner is
// implicit via Vault.OwnerProfileID and holds all document types.
type TeamMembership struct {
	VaultID         uuid.UUID  `json:"vaultId"         gorm:"primaryKey;type:uuid"`
	ProfileID       uuid.UUID  `json:"profileId"       gorm:"primaryKey;type:uuid"`
	Role            Role       `json:"role"            gorm:"not null"`
	AllowedDocTypes DocTypeSet `json:"allowedDocTypes" gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt       time.Time  `json:"createdAt"       gorm:"not null"`
}

func (TeamMembership) TableName() string { return "team_memberships" }

// TeamInvite is a tokenized invitation to join a vault as a delegate.
type TeamInvite struct {
	ID                  uuid.UUID  `json:"id"              gorm:"primaryKey;type:uuid"`
	VaultID             uuid.UUID  `json:"vaultId"         gorm:"not null;type:uuid;index"`
	InvitedEmail        string     `json:"invitedEmail"    gorm:"not null"`
	Role                Role       `json:"role"            gorm:"not null"`
	AllowedDocTypes     DocTypeSet `json:"allowedDocTypes" gorm:"type:jsonb;serializer:json;not null"`
	TokenHash           string     `json:"-"               gorm:"uniqueIndex;not null"`
	ExpiresAt           time.Time  `json:"expiresAt"       gorm:"not null"`
	AcceptedAt          *time.Time `json:"acceptedAt,omitempty"`
	AcceptedByProfileID *uuid.UUID `json:"acceptedByProfileId,omitempty" gorm:"type:uuid"`
	CreatedAt           time.Time  `json:"createdAt"       gorm:"not null"`
}

func (TeamInvite) TableName() string { return "team_invites" }

// OtpChallenge is a short-lived email OTP challenge bound to a share link.
// Neither the OTP nor the vendor email is stored in plaintext.
type OtpChallenge struct {
	ID              uuid.UUID `json:"id"          gorm:"primaryKey;type:uuid"`
	ShareLinkID     uuid.UUID `json:"shareLinkId" gorm:"not null;type:uuid;index"`
	VendorEmailHash string    `json:"-"           gorm:"not null"`
	EmailSalt       []byte    `json:"-"           gorm:"type:bytea;not null"`
	OtpHash         string    `json:"-"           gorm:"not null"`
	OtpSalt         []byte    `json:"-"           gorm:"type:bytea;not null"`
	Attempts        int       `json:"attempts"    gorm:"not null"`
	ExpiresAt       time.Time `json:"expiresAt"   gorm:"not null"`
	CreatedAt       time.Time `json:"createdAt"   gorm:"not null"`
}

func (OtpChallenge) TableName() string { return "otp_challenges" }

// AuditEvent is one append-only audit record. ActorID is a profile id for
// owners and delegates, and a salted email hash for vendors.
type AuditEvent struct {
	ID                   uuid.UUID  `json:"id"                   gorm:"primaryKey;type:uuid"`
	VaultID              uuid.UUID  `json:"vaultId"              gorm:"not null;type:uuid;index"`
	ActorType            ActorType  `json:"actorType"            gorm:"not null"`
	ActorID              string     `json:"actorId"              gorm:"not null"`
	EventType            EventType  `json:"eventType"            gorm:"not null"`
	LinkID               *uuid.UUID `json:"linkId,omitempty"     gorm:"type:uuid"`
	DocType              *DocType   `json:"docType,omitempty"`
	WatermarkReferenceID *string    `json:"watermarkReferenceId,omitempty"`
	UserAgent            *string    `json:"userAgent,omitempty"`
	IP                   *string    `json:"ip,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"            gorm:"not null;index"`
}

func (AuditEvent) TableName() string { return "audit_events" }
