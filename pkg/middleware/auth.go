package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

const (
	claimsKey  = "claims"
	accountKey = "account"
	tokenKey   = "token"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Revocations reports access tokens that were given up before they expired.
type Revocations interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware verifies Bearer tokens and stores the caller's account in
// the gin context. revoked may be nil.
func AuthMiddleware(ver Verifier, revoked Revocations) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		if revoked != nil {
			gone, err := revoked.IsRevoked(c.Request.Context(), token)
			if err != nil {
				logger.Warnf("token revocation check failed: %v", err)
			}
			if gone {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
				return
			}
		}

		idToken, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}

		var claims map[string]interface{}
		if err := idToken.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		acc := AccountFromClaims(claims)
		if acc.Anonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set(tokenKey, token)
		c.Set(accountKey, acc)
		c.Next()
	}
}

// AccountFromClaims maps OIDC claims onto an account. The subject is the
// identity; email and name are informational.
func AccountFromClaims(claims map[string]interface{}) mindmap.Account {
	str := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	name := str("name")
	if name == "" {
		name = strings.TrimSpace(str("given_name") + " " + str("family_name"))
	}
	return mindmap.Account{ID: str("sub"), Email: str("email"), FullName: name}
}

// AccountFrom returns the authenticated account, or the anonymous account
// when the request did not pass AuthMiddleware.
func AccountFrom(c *gin.Context) mindmap.Account {
	if v, ok := c.Get(accountKey); ok {
		if acc, ok := v.(mindmap.Account); ok {
			return acc
		}
	}
	return mindmap.Account{}
}

// TokenFrom returns the raw bearer token of an authenticated request.
func TokenFrom(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// rateKey prefers the authenticated account and falls back to the client IP.
func rateKey(c *gin.Context) string {
	if acc := AccountFrom(c); !acc.Anonymous() {
		return "sub:" + acc.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// ClaimsFrom returns the verified token claims, or nil.
func ClaimsFrom(c *gin.Context) map[string]interface{} {
	if v, ok := c.Get(claimsKey); ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}
