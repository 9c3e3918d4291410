package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobbridge/internal/auth"
	"jobbridge/internal/database"
)

const (
	identityKey     = "identity"
	sessionTokenKey = "sessionToken"
)

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"ok":    false,
		"error": gin.H{"kind": "unauthenticated", "message": "unauthenticated"},
	})
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"ok":    false,
		"error": gin.H{"kind": "forbidden", "message": "forbidden"},
	})
}

func abortStore(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"ok":    false,
		"error": gin.H{"kind": "store", "message": "internal error"},
	})
}

// bearerToken 从 Authorization 头提取不透明会话令牌。
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// resolveIdentity 把令牌解析为身份。令牌缺失或已失效返回 ok=false；
// 会话存储或数据库故障以 error 返回，绝不折叠成「未认证」。
func resolveIdentity(c *gin.Context, sessions *auth.SessionStore, db *gorm.DB) (database.Identity, string, bool, error) {
	token := bearerToken(c)
	if token == "" {
		return database.Identity{}, "", false, nil
	}

	identityID, err := sessions.Resolve(c.Request.Context(), token)
	if errors.Is(err, auth.ErrNoSession) {
		return database.Identity{}, token, false, nil
	}
	if err != nil {
		return database.Identity{}, token, false, err
	}

	var identity database.Identity
	if err := db.WithContext(c.Request.Context()).First(&identity, identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Identity{}, token, false, nil
		}
		return database.Identity{}, token, false, err
	}

	return identity, token, true, nil
}

// AuthMiddleware 把会话令牌解析为身份并注入上下文。
// 令牌无效返回 401，存储故障记录日志后返回 500。
func AuthMiddleware(sessions *auth.SessionStore, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, token, ok, err := resolveIdentity(c, sessions, db)
		if err != nil {
			LoggerFromContext(c).Error("resolve session failed", "error", err)
			abortStore(c)
			return
		}
		if !ok {
			abortUnauthenticated(c)
			return
		}

		c.Set(identityKey, identity)
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

// OptionalAuthMiddleware 与 AuthMiddleware 相同，但缺失会话时放行，
// 供 /auth/status 这类可匿名访问的端点使用。存储故障照样报错。
func OptionalAuthMiddleware(sessions *auth.SessionStore, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, token, ok, err := resolveIdentity(c, sessions, db)
		if err != nil {
			LoggerFromContext(c).Error("resolve session failed", "error", err)
			abortStore(c)
			return
		}
		if ok {
			c.Set(identityKey, identity)
			c.Set(sessionTokenKey, token)
		}
		c.Next()
	}
}

// RequireRole 要求已解析身份持有指定角色，不匹配即 403。
func RequireRole(role database.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		if identity.Role != role {
			abortForbidden(c)
			return
		}
		c.Next()
	}
}

// IdentityFromContext 返回上下文中的身份。
func IdentityFromContext(c *gin.Context) (database.Identity, bool) {
	if value, ok := c.Get(identityKey); ok {
		if identity, ok := value.(database.Identity); ok {
			return identity, true
		}
	}
	return database.Identity{}, false
}

// SessionTokenFromContext 返回当前请求携带的会话令牌。
func SessionTokenFromContext(c *gin.Context) (string, bool) {
	if value, ok := c.Get(sessionTokenKey); ok {
		if token, ok := value.(string); ok && token != "" {
			return token, true
		}
	}
	return "", false
}
