package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mabletask/agent/logger"
	"mabletask/agent/models"
	"mabletask/agent/transport"
	"mabletask/agent/utils"
)

// Context keys set by the auth middleware.
const (
	InstallationKey = "installation"
	APIKeyKey       = "api_key"
	PageClaimsKey   = "page_claims"
)

// OrgHeader carries the organization id on installation-authenticated calls.
const OrgHeader = "X-Organization-ID"

// ErrUnknownInstallation is returned by StaticInstallations for any key or
// organization other than the configured one.
var ErrUnknownInstallation = errors.New("unknown installation")

// Authenticator resolves an installation from an organization id and raw key.
type Authenticator interface {
	Authenticate(ctx context.Context, orgID, rawKey string) (*models.Installation, error)
}

// StaticInstallations authenticates the single installation configured for
// the bridge when no registry database is available.
type StaticInstallations struct {
	OrgID  string
	APIKey string
}

// Authenticate compares against the configured pair in constant time.
func (s StaticInstallations) Authenticate(_ context.Context, orgID, rawKey string) (*models.Installation, error) {
	if s.APIKey == "" || orgID != s.OrgID ||
		subtle.ConstantTimeCompare([]byte(rawKey), []byte(s.APIKey)) != 1 {
		return nil, ErrUnknownInstallation
	}
	return &models.Installation{OrgID: s.OrgID, Active: true}, nil
}

// InstallationAuth requires an installation key and organization id. The key
// is read from the X-API-Key header, or the key query parameter the beacon
// form uses. An installation bound to an origin rejects other origins.
func InstallationAuth(auth Authenticator, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader(transport.APIKeyHeader)
		if rawKey == "" {
			rawKey = c.Query(transport.KeyParam)
		}
		orgID := c.GetHeader(OrgHeader)
		if orgID == "" {
			orgID = c.Query("org")
		}
		if rawKey == "" || orgID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: installation key and organization are required"})
			return
		}

		inst, err := auth.Authenticate(c.Request.Context(), orgID, rawKey)
		if err != nil {
			log.Debug("Installation rejected", logger.String("org_id", orgID), logger.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid installation key"})
			return
		}

		if inst.AllowedOrigin != "" {
			if origin := c.GetHeader("Origin"); origin != "" && !strings.EqualFold(origin, inst.AllowedOrigin) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: origin not allowed for this installation"})
				return
			}
		}

		c.Set(InstallationKey, inst)
		c.Set(APIKeyKey, rawKey)
		c.Next()
	}
}

// PageTokenAuth requires a page token bound to the :id route parameter.
func PageTokenAuth(tokens *utils.PageTokens, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			log.Debug("Page token rejected", logger.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		if claims.PageID != c.Param("id") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: token does not match page"})
			return
		}

		c.Set(PageClaimsKey, claims)
		c.Next()
	}
}

// Installation returns the installation set by InstallationAuth.
func Installation(c *gin.Context) (*models.Installation, bool) {
	v, ok := c.Get(InstallationKey)
	if !ok {
		return nil, false
	}
	inst, ok := v.(*models.Installation)
	return inst, ok
}

// PageClaims returns the claims set by PageTokenAuth.
func PageClaims(c *gin.Context) (*utils.PageClaims, bool) {
	v, ok := c.Get(PageClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*utils.PageClaims)
	return claims, ok
}
