package security

import (
	"context"

	"github.com/chirino/vault-service/internal/model"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/google/uuid"
)

// Require resolves the caller's profile and access to a vault. When role is
// non-nil, the resolved role must match exactly; owners do not satisfy a
// delegate requirement or vice versa. Returns ForbiddenError when the caller
// has no relationship to the vault or the role does not match.
func Require(ctx context.Context, st registrystore.VaultStore, vaultID uuid.UUID, externalUserID string, role *model.Role) (*model.UserProfile, *model.Access, error) {
	profile, err := st.EnsureProfile(ctx, externalUserID)
	if err != nil {
		return nil, nil, err
	}
	access, err := st.ResolveAccess(ctx, vaultID, profile.ID)
	if err != nil {
		return nil, nil, err
	}
	if access == nil {
		return nil, nil, &registrystore.ForbiddenError{}
	}
	if role != nil && access.Role != *role {
		return nil, nil, &registrystore.ForbiddenError{}
	}
	return profile, access, nil
}

// CanAccessDocType reports whether the caller may act on documents of type d
// in the given vault.
func CanAccessDocType(ctx context.Context, st registrystore.VaultStore, vaultID uuid.UUID, externalUserID string, d model.DocType) (bool, error) {
	_, access, err := Require(ctx, st, vaultID, externalUserID, nil)
	if err != nil {
		return false, err
	}
	return access.CanAccessDocType(d), nil
}
