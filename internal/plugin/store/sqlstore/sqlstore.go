// Package sqlstore implements the VaultStore SPI over GORM. It registers two
// datastore plugins: "postgres" (production) and "sqlite" (development and
// tests). Both share the same store implementation; only the dialector and
// migration path differ.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/model"
	registrymigrate "github.com/chirino/vault-service/internal/registry/migrate"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.VaultStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &SQLStore{db: db}, nil
		},
	})

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.VaultStore, error) {
			cfg := config.FromContext(ctx)
			dbURL := cfg.DBURL
			if dbURL == "" {
				dbURL = "file::memory:?cache=shared"
			}
			db, err := gorm.Open(sqlite.Open(dbURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			if cfg.DatastoreMigrateAtStart {
				if err := autoMigrate(db); err != nil {
					return nil, err
				}
			}
			return &SQLStore{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.UserProfile{},
		&model.Vault{},
		&model.Document{},
		&model.ShareRequest{},
		&model.ShareLink{},
		&model.ShareLinkDocument{},
		&model.TeamMembership{},
		&model.TeamInvite{},
		&model.OtpChallenge{},
		&model.AuditEvent{},
	)
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// SQLStore implements VaultStore using GORM over PostgreSQL or SQLite.
type SQLStore struct {
	db *gorm.DB
}

// isUniqueViolation reports whether err is a uniqueness constraint failure
// from either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// --- Profiles ---

func (s *SQLStore) EnsureProfile(ctx context.Context, externalUserID string) (*model.UserProfile, error) {
	if externalUserID == "" {
		return nil, &registrystore.ValidationError{Field: "externalUserId", Message: "must not be empty"}
	}
	var profile model.UserProfile
	err := s.db.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	profile = model.UserProfile{
		ID:             uuid.New(),
		ExternalUserID: externalUserID,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost a creation race; the winner's row is authoritative.
			var existing model.UserProfile
			if err := s.db.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&existing).Error; err != nil {
				return nil, fmt.Errorf("failed to reload profile: %w", err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return &profile, nil
}

// --- Vaults & access ---

func (s *SQLStore) CreateVault(ctx context.Context, vault model.Vault) (*model.Vault, error) {
	if err := s.db.WithContext(ctx).Create(&vault).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &registrystore.ConflictError{Message: "vault already exists for this owner"}
		}
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	return &vault, nil
}

func (s *SQLStore) GetVault(ctx context.Context, vaultID uuid.UUID) (*model.Vault, error) {
	var vault model.Vault
	if err := s.db.WithContext(ctx).Where("id = ?", vaultID).First(&vault).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "vault", ID: vaultID.String()}
		}
		return nil, fmt.Errorf("failed to load vault: %w", err)
	}
	return &vault, nil
}

func (s *SQLStore) FindVaultForProfile(ctx context.Context, profileID uuid.UUID) (*model.Vault, *model.Access, error) {
	var vault model.Vault
	err := s.db.WithContext(ctx).Where("owner_profile_id = ?", profileID).First(&vault).Error
	if err == nil {
		access := model.OwnerAccess()
		return &vault, &access, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("failed to load vault: %w", err)
	}

	var membership model.TeamMembership
	err = s.db.WithContext(ctx).Where("profile_id = ?", profileID).First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &registrystore.NotFoundError{Resource: "vault", ID: profileID.String()}
		}
		return nil, nil, fmt.Errorf("failed to load membership: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", membership.VaultID).First(&vault).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load vault: %w", err)
	}
	access := model.DelegateAccess(membership.AllowedDocTypes)
	return &vault, &access, nil
}

func (s *SQLStore) ResolveAccess(ctx context.Context, vaultID, profileID uuid.UUID) (*model.Access, error) {
	vault, err := s.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.OwnerProfileID == profileID {
		access := model.OwnerAccess()
		return &access, nil
	}
	var membership model.TeamMembership
	err = s.db.WithContext(ctx).Where("vault_id = ? AND profile_id = ?", vaultID, profileID).First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	access := model.DelegateAccess(membership.AllowedDocTypes)
	return &access, nil
}

// --- Documents ---

func (s *SQLStore) CommitDocument(ctx context.Context, doc model.Document) (*model.Document, bool, error) {
	replaced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Document
		err := tx.Where("vault_id = ? AND doc_type = ?", doc.VaultID, doc.DocType).First(&existing).Error
		switch {
		case err == nil:
			// Replace: the row keeps its identity, every payload field is
			// overwritten, and the prior blob is superseded.
			replaced = true
			doc.ID = existing.ID
			return tx.Model(&model.Document{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
				"storage_path":               doc.StoragePath,
				"filename":                   doc.Filename,
				"size":                       doc.Size,
				"ciphertext_checksum":        doc.CiphertextChecksum,
				"encrypted_dek_for_owner":    doc.EncryptedDekForOwner,
				"dek_nonce":                  doc.DekNonce,
				"uploaded_at":                doc.UploadedAt,
				"last_updated_by_profile_id": doc.LastUpdatedByProfileID,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&doc).Error
		default:
			return err
		}
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent replace for the same (vault, docType); the caller retries.
			return nil, false, &registrystore.ConflictError{Message: "concurrent document commit; retry"}
		}
		return nil, false, fmt.Errorf("failed to commit document: %w", err)
	}
	return &doc, replaced, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context, vaultID uuid.UUID) ([]model.Document, error) {
	var docs []model.Document
	if err := s.db.WithContext(ctx).Where("vault_id = ?", vaultID).Order("doc_type").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (s *SQLStore) GetDocument(ctx context.Context, vaultID, docID uuid.UUID) (*model.Document, error) {
	var doc model.Document
	if err := s.db.WithContext(ctx).Where("id = ? AND vault_id = ?", docID, vaultID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "document", ID: docID.String()}
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

func (s *SQLStore) GetDocumentsByType(ctx context.Context, vaultID uuid.UUID, types model.DocTypeSet) (map[model.DocType]model.Document, error) {
	var docs []model.Document
	if err := s.db.WithContext(ctx).Where("vault_id = ? AND doc_type IN ?", vaultID, types).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	result := make(map[model.DocType]model.Document, len(docs))
	for _, d := range docs {
		result[d.DocType] = d
	}
	return result, nil
}

// --- Share requests ---

func (s *SQLStore) CreateShareRequest(ctx context.Context, req model.ShareRequest) (*model.ShareRequest, error) {
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, fmt.Errorf("failed to create share request: %w", err)
	}
	return &req, nil
}

func (s *SQLStore) ListShareRequests(ctx context.Context, vaultID uuid.UUID) ([]model.ShareRequest, error) {
	var reqs []model.ShareRequest
	if err := s.db.WithContext(ctx).Where("vault_id = ?", vaultID).Order("created_at DESC, id DESC").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list share requests: %w", err)
	}
	return reqs, nil
}

func (s *SQLStore) GetShareRequest(ctx context.Context, id uuid.UUID) (*model.ShareRequest, error) {
	var req model.ShareRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "share request", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to load share request: %w", err)
	}
	return &req, nil
}

func (s *SQLStore) TransitionShareRequest(ctx context.Context, id uuid.UUID, from, to model.ShareRequestStatus) (*model.ShareRequest, error) {
	var req model.ShareRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transitionRequest(tx, id, from, to, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// transitionRequest performs the compare-and-set status move inside tx.
// A lost race surfaces as ConflictError, never as a double transition.
func transitionRequest(tx *gorm.DB, id uuid.UUID, from, to model.ShareRequestStatus, out *model.ShareRequest) error {
	res := tx.Model(&model.ShareRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to transition share request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing model.ShareRequest
		if err := tx.Where("id = ?", id).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "share request", ID: id.String()}
			}
			return fmt.Errorf("failed to load share request: %w", err)
		}
		return &registrystore.ConflictError{Message: fmt.Sprintf("share request is %s", existing.Status)}
	}
	return tx.Where("id = ?", id).First(out).Error
}

func (s *SQLStore) ApproveShareRequest(ctx context.Context, requestID uuid.UUID, link model.ShareLink, docs []model.ShareLinkDocument) (*model.ShareLink, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.ShareRequest
		if err := transitionRequest(tx, requestID, model.ShareRequestPending, model.ShareRequestApproved, &req); err != nil {
			return err
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("failed to create share link: %w", err)
		}
		for i := range docs {
			docs[i].ShareLinkID = link.ID
		}
		if len(docs) > 0 {
			if err := tx.Create(&docs).Error; err != nil {
				return fmt.Errorf("failed to create share link documents: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// --- Share links ---

func (s *SQLStore) CreateShareLink(ctx context.Context, link model.ShareLink, docs []model.ShareLinkDocument) (*model.ShareLink, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("failed to create share link: %w", err)
		}
		for i := range docs {
			docs[i].ShareLinkID = link.ID
		}
		if len(docs) > 0 {
			if err := tx.Create(&docs).Error; err != nil {
				return fmt.Errorf("failed to create share link documents: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *SQLStore) GetShareLink(ctx context.Context, id uuid.UUID) (*model.ShareLink, error) {
	var link model.ShareLink
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "share link", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to load share link: %w", err)
	}
	return &link, nil
}

func (s *SQLStore) GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (*model.ShareLink, error) {
	var link model.ShareLink
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "share link", ID: "token"}
		}
		return nil, fmt.Errorf("failed to load share link: %w", err)
	}
	return &link, nil
}

func (s *SQLStore) ListShareLinks(ctx context.Context, vaultID uuid.UUID) ([]model.ShareLink, error) {
	var links []model.ShareLink
	if err := s.db.WithContext(ctx).Where("vault_id = ?", vaultID).Order("approved_at DESC, id DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	return links, nil
}

func (s *SQLStore) ListShareLinkDocuments(ctx context.Context, linkID uuid.UUID) ([]model.ShareLinkDocument, error) {
	var docs []model.ShareLinkDocument
	if err := s.db.WithContext(ctx).Where("share_link_id = ?", linkID).Order("doc_type").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list share link documents: %w", err)
	}
	return docs, nil
}

func (s *SQLStore) RevokeShareLink(ctx context.Context, linkID uuid.UUID, at time.Time) (*model.ShareLink, error) {
	var link model.ShareLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", linkID).First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "share link", ID: linkID.String()}
			}
			return fmt.Errorf("failed to load share link: %w", err)
		}
		if link.Status == model.ShareLinkRevoked {
			return nil // idempotent
		}
		link.Status = model.ShareLinkRevoked
		link.RevokedAt = &at
		return tx.Model(&model.ShareLink{}).Where("id = ?", linkID).Updates(map[string]interface{}{
			"status":     model.ShareLinkRevoked,
			"revoked_at": at,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// --- OTP challenges ---

func (s *SQLStore) CreateOtpChallenge(ctx context.Context, ch model.OtpChallenge) (*model.OtpChallenge, error) {
	if err := s.db.WithContext(ctx).Create(&ch).Error; err != nil {
		return nil, fmt.Errorf("failed to create OTP challenge: %w", err)
	}
	return &ch, nil
}

func (s *SQLStore) ListActiveOtpChallenges(ctx context.Context, linkID uuid.UUID, now time.Time) ([]model.OtpChallenge, error) {
	var challenges []model.OtpChallenge
	if err := s.db.WithContext(ctx).
		Where("share_link_id = ? AND expires_at > ?", linkID, now).
		Order("created_at DESC").
		Find(&challenges).Error; err != nil {
		return nil, fmt.Errorf("failed to list OTP challenges: %w", err)
	}
	return challenges, nil
}

func (s *SQLStore) IncrementOtpAttempts(ctx context.Context, challengeID uuid.UUID) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.OtpChallenge{}).
			Where("id = ?", challengeID).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment attempts: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "OTP challenge", ID: challengeID.String()}
		}
		var ch model.OtpChallenge
		if err := tx.Where("id = ?", challengeID).First(&ch).Error; err != nil {
			return fmt.Errorf("failed to reload challenge: %w", err)
		}
		attempts = ch.Attempts
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// --- Team invites & memberships ---

func (s *SQLStore) CreateInvite(ctx context.Context, inv model.TeamInvite) (*model.TeamInvite, error) {
	if err := s.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}
	return &inv, nil
}

func (s *SQLStore) GetInviteByTokenHash(ctx context.Context, tokenHash string) (*model.TeamInvite, error) {
	var inv model.TeamInvite
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "invite", ID: "token"}
		}
		return nil, fmt.Errorf("failed to load invite: %w", err)
	}
	return &inv, nil
}

func (s *SQLStore) AcceptInvite(ctx context.Context, inviteID, profileID uuid.UUID, at time.Time) (*model.TeamMembership, error) {
	var membership model.TeamMembership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv model.TeamInvite
		if err := tx.Where("id = ?", inviteID).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.NotFoundError{Resource: "invite", ID: inviteID.String()}
			}
			return fmt.Errorf("failed to load invite: %w", err)
		}
		if inv.AcceptedAt != nil {
			return &registrystore.ConflictError{Message: "invite already accepted"}
		}

		res := tx.Model(&model.TeamInvite{}).
			Where("id = ? AND accepted_at IS NULL", inviteID).
			Updates(map[string]interface{}{"accepted_at": at, "accepted_by_profile_id": profileID})
		if res.Error != nil {
			return fmt.Errorf("failed to accept invite: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &registrystore.ConflictError{Message: "invite already accepted"}
		}

		membership = model.TeamMembership{
			VaultID:         inv.VaultID,
			ProfileID:       profileID,
			Role:            inv.Role,
			AllowedDocTypes: inv.AllowedDocTypes,
			CreatedAt:       at,
		}
		if err := tx.Create(&membership).Error; err != nil {
			if isUniqueViolation(err) {
				return &registrystore.ConflictError{Message: "already a member of this vault"}
			}
			return fmt.Errorf("failed to create membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (s *SQLStore) ListMemberships(ctx context.Context, vaultID uuid.UUID) ([]model.TeamMembership, error) {
	var memberships []model.TeamMembership
	if err := s.db.WithContext(ctx).Where("vault_id = ?", vaultID).Order("created_at").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

// --- Audit ---

func (s *SQLStore) AppendAudit(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, vaultID uuid.UUID, limit int) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	if err := s.db.WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
