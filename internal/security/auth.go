package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated
	// identity-provider user id.
	ContextKeyUserID = "externalUserID"
	// ContextKeyUserEmail is the gin context key for the authenticated email.
	ContextKeyUserEmail = "userEmail"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	ExternalUserID string
	Email          string
}

// TokenResolver resolves bearer tokens to caller identities. It is
// initialized once at startup and shared by all HTTP middleware.
type TokenResolver struct {
	verifier    *oidc.IDTokenVerifier
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config. It
// performs one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	oidcIssuer := cfg.OIDCIssuer

	if oidcIssuer != "" {
		ctx := context.Background()
		expectedIssuer := oidcIssuer
		discoveryURL := cfg.OIDCDiscoveryURL
		if discoveryURL != "" && discoveryURL != oidcIssuer {
			// Discovery URL differs from issuer (e.g. internal Docker hostname
			// vs external URL). NewProvider fetches from its issuer arg, so
			// pass the discovery URL there and accept the mismatch.
			ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
			oidcIssuer = discoveryURL
		}
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider; owner/delegate auth disabled", "issuer", oidcIssuer, "err", err)
		} else {
			if expectedIssuer != oidcIssuer {
				var providerClaims struct {
					JWKSURI string `json:"jwks_uri"`
				}
				if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
					keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
					verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{SkipClientIDCheck: true})
				}
			}
			if verifier == nil {
				verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			}
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	return &TokenResolver{
		verifier:    verifier,
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errNoCredentials   = errors.New("no credentials")
)

// Resolve resolves a bearer token into a caller Identity. In testing mode the
// X-User-ID / X-User-Email headers are accepted in place of a verified token.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken, userIDHeader, emailHeader string) (*Identity, error) {
	if r.testingMode {
		if id := strings.TrimSpace(userIDHeader); id != "" {
			return &Identity{ExternalUserID: id, Email: strings.TrimSpace(emailHeader)}, nil
		}
	}

	if r.verifier == nil || strings.Count(bearerToken, ".") < 2 {
		return nil, errNoCredentials
	}
	idToken, err := r.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}
	if claims.Sub == "" {
		return nil, errMissingIdentity
	}
	return &Identity{ExternalUserID: claims.Sub, Email: claims.Email}, nil
}

// AuthMiddleware returns a gin middleware that requires an authenticated
// owner/delegate identity and stores it on the context.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
		identity, err := resolver.Resolve(
			c.Request.Context(),
			bearer,
			c.GetHeader("X-User-ID"),
			c.GetHeader("X-User-Email"),
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ContextKeyUserID, identity.ExternalUserID)
		c.Set(ContextKeyUserEmail, identity.Email)
		c.Next()
	}
}

// GetExternalUserID returns the authenticated identity-provider user id.
func GetExternalUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetUserEmail returns the authenticated email, if the token carried one.
func GetUserEmail(c *gin.Context) string {
	return c.GetString(ContextKeyUserEmail)
}
