package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
)

const (
	CtxSubjectKey = "auth_subject"
	APIKeyHeader  = "X-API-Key"
)

// APIKeys is the set of accepted static keys.
type APIKeys []string

func (k APIKeys) valid(key string) bool {
	ok := 0
	for _, candidate := range k {
		ok |= subtle.ConstantTimeCompare([]byte(candidate), []byte(key))
	}
	return ok == 1
}

// Middleware accepts a configured X-API-Key or a valid bearer token.
// Requests carrying neither are rejected with 403, bad tokens with 401.
func Middleware(tokens TokenService, keys APIKeys, logger hclog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" && keys.valid(key) {
			logger.Debug("authenticated with api key", "path", c.FullPath())
			c.Set(CtxSubjectKey, "api-key")
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		raw := strings.TrimSpace(h[len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}

		logger.Debug("authenticated with token", "user", claims.Username, "path", c.FullPath())
		c.Set(CtxSubjectKey, claims.Username)
		c.Next()
	}
}

// Subject returns who authenticated the request.
func Subject(c *gin.Context) string {
	return c.GetString(CtxSubjectKey)
}
