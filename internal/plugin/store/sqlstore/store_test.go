package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/envelope"
	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/vault-service/internal/registry/migrate"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.VaultStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	// A unique shared-cache DSN per test keeps tests isolated while letting
	// the pool share one in-memory database.
	cfg.DBURL = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlstore.ForceImport

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	return store, ctx
}

func createVault(t *testing.T, store registrystore.VaultStore, ctx context.Context, externalUserID string) (*model.UserProfile, *model.Vault) {
	t.Helper()
	profile, err := store.EnsureProfile(ctx, externalUserID)
	require.NoError(t, err)

	now := time.Now()
	vault, err := store.CreateVault(ctx, model.Vault{
		ID:             uuid.New(),
		OwnerProfileID: profile.ID,
		KdfSalt:        make([]byte, envelope.SaltSize),
		KdfParams:      envelope.DefaultKdfParams(),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	return profile, vault
}

func TestEnsureProfileIdempotent(t *testing.T) {
	store, ctx := setupTestStore(t)

	p1, err := store.EnsureProfile(ctx, "auth0|user-1")
	require.NoError(t, err)
	p2, err := store.EnsureProfile(ctx, "auth0|user-1")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	p3, err := store.EnsureProfile(ctx, "auth0|user-2")
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p3.ID)
}

func TestCreateVaultOnePerOwner(t *testing.T) {
	store, ctx := setupTestStore(t)
	profile, _ := createVault(t, store, ctx, "owner-1")

	_, err := store.CreateVault(ctx, model.Vault{
		ID:             uuid.New(),
		OwnerProfileID: profile.ID,
		KdfSalt:        make([]byte, envelope.SaltSize),
		KdfParams:      envelope.DefaultKdfParams(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestResolveAccess(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-2")

	access, err := store.ResolveAccess(ctx, vault.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.Equal(t, model.RoleOwner, access.Role)
	assert.True(t, access.CanAccessDocType(model.DocTypeSourceOfWealth))

	// A stranger resolves to none.
	stranger, err := store.EnsureProfile(ctx, "stranger")
	require.NoError(t, err)
	access, err = store.ResolveAccess(ctx, vault.ID, stranger.ID)
	require.NoError(t, err)
	assert.Nil(t, access)

	// A delegate resolves with the scoped doc types.
	delegate, err := store.EnsureProfile(ctx, "delegate")
	require.NoError(t, err)
	inv, err := store.CreateInvite(ctx, model.TeamInvite{
		ID:              uuid.New(),
		VaultID:         vault.ID,
		InvitedEmail:    "d@example.test",
		Role:            model.RoleDelegate,
		AllowedDocTypes: model.DocTypeSet{model.DocTypeID},
		TokenHash:       "hash-1",
		ExpiresAt:       time.Now().Add(time.Hour),
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	_, err = store.AcceptInvite(ctx, inv.ID, delegate.ID, time.Now())
	require.NoError(t, err)

	access, err = store.ResolveAccess(ctx, vault.ID, delegate.ID)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.Equal(t, model.RoleDelegate, access.Role)
	assert.True(t, access.CanAccessDocType(model.DocTypeID))
	assert.False(t, access.CanAccessDocType(model.DocTypeSourceOfWealth))
}

func newDocument(vaultID, profileID uuid.UUID, docType model.DocType) model.Document {
	docID := uuid.New()
	return model.Document{
		ID:                     docID,
		VaultID:                vaultID,
		DocType:                docType,
		StoragePath:            fmt.Sprintf("vaults/%s/%s/%s.bin", vaultID, docType, docID),
		Filename:               "doc.pdf",
		Size:                   3,
		CiphertextChecksum:     "00",
		EncryptedDekForOwner:   make([]byte, envelope.WrapBlobSize),
		DekNonce:               make([]byte, envelope.NonceSize),
		UploadedAt:             time.Now(),
		LastUpdatedByProfileID: profileID,
	}
}

func TestCommitDocumentReplace(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-3")

	first := newDocument(vault.ID, owner.ID, model.DocTypeID)
	committed, replaced, err := store.CommitDocument(ctx, first)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, first.ID, committed.ID)

	// Same (vault, docType) commits atomically replace the row.
	second := newDocument(vault.ID, owner.ID, model.DocTypeID)
	second.Filename = "doc-v2.pdf"
	committed, replaced, err = store.CommitDocument(ctx, second)
	require.NoError(t, err)
	assert.True(t, replaced)
	// The row keeps its identity; the payload is the replacement's.
	assert.Equal(t, first.ID, committed.ID)
	assert.Equal(t, second.StoragePath, committed.StoragePath)

	docs, err := store.ListDocuments(ctx, vault.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-v2.pdf", docs[0].Filename)
}

func newShareRequest(vaultID, creatorID uuid.UUID) model.ShareRequest {
	email := "v@example.test"
	now := time.Now()
	return model.ShareRequest{
		ID:                 uuid.New(),
		VaultID:            vaultID,
		CreatedByProfileID: creatorID,
		VendorLabel:        "Acme Compliance",
		VendorEmail:        &email,
		RequestedDocTypes:  model.DocTypeSet{model.DocTypeID},
		ExpiresAt:          now.Add(24 * time.Hour),
		Status:             model.ShareRequestPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func newShareLink(vaultID, creatorID uuid.UUID, requestID *uuid.UUID, tokenHash string) model.ShareLink {
	return model.ShareLink{
		ID:                    uuid.New(),
		VaultID:               vaultID,
		ShareRequestID:        requestID,
		CreatedByProfileID:    creatorID,
		ApprovedByProfileID:   creatorID,
		Status:                model.ShareLinkApproved,
		VendorLabel:           "Acme Compliance",
		VendorEmail:           "v@example.test",
		ExpiresAt:             time.Now().Add(24 * time.Hour),
		ApprovedAt:            time.Now(),
		TokenHash:             tokenHash,
		EncryptedLskForVendor: make([]byte, envelope.WrapBlobSize),
		LskSalt:               make([]byte, envelope.SaltSize),
		LskNonce:              make([]byte, envelope.NonceSize),
	}
}

func TestShareRequestTransitions(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-4")

	req, err := store.CreateShareRequest(ctx, newShareRequest(vault.ID, owner.ID))
	require.NoError(t, err)

	updated, err := store.TransitionShareRequest(ctx, req.ID, model.ShareRequestPending, model.ShareRequestRejected)
	require.NoError(t, err)
	assert.Equal(t, model.ShareRequestRejected, updated.Status)

	// A second transition loses the CAS and reports the current state.
	_, err = store.TransitionShareRequest(ctx, req.ID, model.ShareRequestPending, model.ShareRequestCancelled)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestApproveShareRequest(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-5")
	doc, _, err := store.CommitDocument(ctx, newDocument(vault.ID, owner.ID, model.DocTypeID))
	require.NoError(t, err)

	req, err := store.CreateShareRequest(ctx, newShareRequest(vault.ID, owner.ID))
	require.NoError(t, err)

	link, err := store.ApproveShareRequest(ctx, req.ID,
		newShareLink(vault.ID, owner.ID, &req.ID, "token-hash-1"),
		[]model.ShareLinkDocument{{
			DocumentID:          doc.ID,
			DocType:             model.DocTypeID,
			EncryptedDekForLink: make([]byte, envelope.WrapBlobSize),
			DekForLinkNonce:     make([]byte, envelope.NonceSize),
		}})
	require.NoError(t, err)

	got, err := store.GetShareRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShareRequestApproved, got.Status)

	docs, err := store.ListShareLinkDocuments(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	byHash, err := store.GetShareLinkByTokenHash(ctx, "token-hash-1")
	require.NoError(t, err)
	assert.Equal(t, link.ID, byHash.ID)

	// Approval is not re-entrant.
	_, err = store.ApproveShareRequest(ctx, req.ID,
		newShareLink(vault.ID, owner.ID, &req.ID, "token-hash-2"), nil)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRevokeShareLinkIdempotent(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-6")

	link, err := store.CreateShareLink(ctx, newShareLink(vault.ID, owner.ID, nil, "token-hash-3"), nil)
	require.NoError(t, err)

	at := time.Now()
	revoked, err := store.RevokeShareLink(ctx, link.ID, at)
	require.NoError(t, err)
	assert.Equal(t, model.ShareLinkRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)

	// A second revocation is a no-op that preserves the original timestamp.
	again, err := store.RevokeShareLink(ctx, link.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.ShareLinkRevoked, again.Status)
	assert.WithinDuration(t, at, *again.RevokedAt, time.Second)
}

func TestOtpChallengeAttempts(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-7")
	link, err := store.CreateShareLink(ctx, newShareLink(vault.ID, owner.ID, nil, "token-hash-4"), nil)
	require.NoError(t, err)

	ch, err := store.CreateOtpChallenge(ctx, model.OtpChallenge{
		ID:              uuid.New(),
		ShareLinkID:     link.ID,
		VendorEmailHash: "hash",
		EmailSalt:       make([]byte, envelope.SaltSize),
		OtpHash:         "otp-hash",
		OtpSalt:         make([]byte, envelope.SaltSize),
		ExpiresAt:       time.Now().Add(10 * time.Minute),
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementOtpAttempts(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Expired challenges drop out of the active listing.
	active, err := store.ListActiveOtpChallenges(ctx, link.ID, time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 1)
	active, err = store.ListActiveOtpChallenges(ctx, link.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

func TestAcceptInviteOnce(t *testing.T) {
	store, ctx := setupTestStore(t)
	_, vault := createVault(t, store, ctx, "owner-8")
	delegate, err := store.EnsureProfile(ctx, "delegate-8")
	require.NoError(t, err)

	inv, err := store.CreateInvite(ctx, model.TeamInvite{
		ID:              uuid.New(),
		VaultID:         vault.ID,
		InvitedEmail:    "d8@example.test",
		Role:            model.RoleDelegate,
		AllowedDocTypes: model.DocTypeSet{model.DocTypeProofOfAddress},
		TokenHash:       "invite-hash-8",
		ExpiresAt:       time.Now().Add(time.Hour),
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)

	membership, err := store.AcceptInvite(ctx, inv.ID, delegate.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, vault.ID, membership.VaultID)

	_, err = store.AcceptInvite(ctx, inv.ID, delegate.ID, time.Now())
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestAuditOrderingAndCap(t *testing.T) {
	store, ctx := setupTestStore(t)
	owner, vault := createVault(t, store, ctx, "owner-9")

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAudit(ctx, model.AuditEvent{
			VaultID:   vault.ID,
			ActorType: model.ActorOwner,
			ActorID:   owner.ID.String(),
			EventType: model.EventVaultUnlocked,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := store.ListAudit(ctx, vault.ID, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.After(events[i-1].CreatedAt), "newest first")
	}
}

func TestNotFoundErrors(t *testing.T) {
	store, ctx := setupTestStore(t)

	var notFound *registrystore.NotFoundError
	_, err := store.GetVault(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
	_, err = store.GetShareLinkByTokenHash(ctx, "missing")
	require.ErrorAs(t, err, &notFound)
	_, err = store.GetInviteByTokenHash(ctx, "missing")
	require.ErrorAs(t, err, &notFound)
	_, err = store.GetShareRequest(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
}

// TestPostgresStoreSmoke runs the core flows against a disposable Postgres
// container, mirroring production schema behavior (unique indexes, CAS
// transitions). Skipped with -short; without -short it needs a reachable
// Docker daemon and fails when none is available.
func TestPostgresStoreSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}

	dbURL := testpg.StartPostgres(t)
	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	owner, vault := createVault(t, store, ctx, "pg-owner")

	// Unique owner constraint comes from the schema, not application code.
	_, err = store.CreateVault(ctx, model.Vault{
		ID:             uuid.New(),
		OwnerProfileID: owner.ID,
		KdfSalt:        make([]byte, envelope.SaltSize),
		KdfParams:      envelope.DefaultKdfParams(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict))

	_, replaced, err := store.CommitDocument(ctx, newDocument(vault.ID, owner.ID, model.DocTypeID))
	require.NoError(t, err)
	assert.False(t, replaced)
	_, replaced, err = store.CommitDocument(ctx, newDocument(vault.ID, owner.ID, model.DocTypeID))
	require.NoError(t, err)
	assert.True(t, replaced)
}
