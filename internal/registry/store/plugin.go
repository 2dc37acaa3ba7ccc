package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/vault-service/internal/model"
	"github.com/google/uuid"
)

// VaultStore is the persistence SPI for the vault service. Implementations
// return the typed errors in errors.go; handlers map those onto HTTP status
// codes.
type VaultStore interface {
	// EnsureProfile returns the profile for an identity-provider user id,
	// creating it on first authenticated action.
	EnsureProfile(ctx context.Context, externalUserID string) (*model.UserProfile, error)

	// CreateVault persists a new vault. Returns ConflictError when the owner
	// already has one.
	CreateVault(ctx context.Context, vault model.Vault) (*model.Vault, error)
	// GetVault loads a vault by id.
	GetVault(ctx context.Context, vaultID uuid.UUID) (*model.Vault, error)
	// FindVaultForProfile resolves the single vault a profile belongs to,
	// owner path first, then delegate membership. Returns NotFoundError when
	// the profile belongs to no vault.
	FindVaultForProfile(ctx context.Context, profileID uuid.UUID) (*model.Vault, *model.Access, error)
	// ResolveAccess resolves (vault, profile) to an Access, or (nil, nil)
	// when the profile has no relationship to the vault.
	ResolveAccess(ctx context.Context, vaultID, profileID uuid.UUID) (*model.Access, error)

	// CommitDocument creates or atomically replaces the document for
	// (vault, docType). Reports whether an existing row was replaced.
	CommitDocument(ctx context.Context, doc model.Document) (*model.Document, bool, error)
	// ListDocuments returns the vault's documents ordered by doc type.
	ListDocuments(ctx context.Context, vaultID uuid.UUID) ([]model.Document, error)
	// GetDocument loads one document scoped to a vault.
	GetDocument(ctx context.Context, vaultID, docID uuid.UUID) (*model.Document, error)
	// GetDocumentsByType returns the vault's documents for the given types,
	// keyed by type. Types with no document are absent from the result.
	GetDocumentsByType(ctx context.Context, vaultID uuid.UUID, types model.DocTypeSet) (map[model.DocType]model.Document, error)

	// CreateShareRequest persists a new pending share request.
	CreateShareRequest(ctx context.Context, req model.ShareRequest) (*model.ShareRequest, error)
	// ListShareRequests returns the vault's share requests, newest first.
	ListShareRequests(ctx context.Context, vaultID uuid.UUID) ([]model.ShareRequest, error)
	// GetShareRequest loads one share request.
	GetShareRequest(ctx context.Context, id uuid.UUID) (*model.ShareRequest, error)
	// TransitionShareRequest moves a request from one status to another.
	// Returns ConflictError when the request is not in the expected status.
	TransitionShareRequest(ctx context.Context, id uuid.UUID, from, to model.ShareRequestStatus) (*model.ShareRequest, error)
	// ApproveShareRequest atomically transitions the request to approved and
	// persists the share link with its per-document DEK wraps. Returns
	// ConflictError when the request is no longer pending.
	ApproveShareRequest(ctx context.Context, requestID uuid.UUID, link model.ShareLink, docs []model.ShareLinkDocument) (*model.ShareLink, error)

	// CreateShareLink persists a link that was not produced from a request.
	CreateShareLink(ctx context.Context, link model.ShareLink, docs []model.ShareLinkDocument) (*model.ShareLink, error)
	// GetShareLink loads one link by id.
	GetShareLink(ctx context.Context, id uuid.UUID) (*model.ShareLink, error)
	// GetShareLinkByTokenHash looks a link up by its peppered token hash.
	GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (*model.ShareLink, error)
	// ListShareLinks returns the vault's links, newest first.
	ListShareLinks(ctx context.Context, vaultID uuid.UUID) ([]model.ShareLink, error)
	// ListShareLinkDocuments returns the link's document wraps.
	ListShareLinkDocuments(ctx context.Context, linkID uuid.UUID) ([]model.ShareLinkDocument, error)
	// RevokeShareLink marks the link revoked. Idempotent on already-revoked links.
	RevokeShareLink(ctx context.Context, linkID uuid.UUID, at time.Time) (*model.ShareLink, error)

	// CreateOtpChallenge persists a fresh challenge.
	CreateOtpChallenge(ctx context.Context, ch model.OtpChallenge) (*model.OtpChallenge, error)
	// ListActiveOtpChallenges returns the link's unexpired challenges.
	ListActiveOtpChallenges(ctx context.Context, linkID uuid.UUID, now time.Time) ([]model.OtpChallenge, error)
	// IncrementOtpAttempts bumps a challenge's attempt counter and returns
	// the new value.
	IncrementOtpAttempts(ctx context.Context, challengeID uuid.UUID) (int, error)

	// CreateInvite persists a new team invite.
	CreateInvite(ctx context.Context, inv model.TeamInvite) (*model.TeamInvite, error)
	// GetInviteByTokenHash looks an invite up by its peppered token hash.
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (*model.TeamInvite, error)
	// AcceptInvite atomically marks the invite accepted and creates the
	// membership. Returns ConflictError when already accepted.
	AcceptInvite(ctx context.Context, inviteID, profileID uuid.UUID, at time.Time) (*model.TeamMembership, error)
	// ListMemberships returns the vault's delegate memberships.
	ListMemberships(ctx context.Context, vaultID uuid.UUID) ([]model.TeamMembership, error)

	// AppendAudit writes one append-only audit event.
	AppendAudit(ctx context.Context, ev model.AuditEvent) error
	// ListAudit returns the vault's audit events newest first, capped at
	// limit. Ties on created_at break by id.
	ListAudit(ctx context.Context, vaultID uuid.UUID, limit int) ([]model.AuditEvent, error)
}

// Loader creates a VaultStore from config carried in ctx.
type Loader func(ctx context.Context) (VaultStore, error)

// Plugin represents a datastore plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a datastore plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered datastore plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named datastore plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown datastore %q; valid: %v", name, Names())
}
