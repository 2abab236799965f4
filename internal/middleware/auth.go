package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin 满足任意角色要求，可操作他人名册
const RoleAdmin = "roster_admin"

// 上下文键
const (
	ctxUserID = "user_id"
	ctxRoles  = "roles"
	ctxPerms  = "permissions"
	ctxClaims = "claims"
	ctxOwner  = "resource_owner"
)

// JWTClaims 名册服务令牌
type JWTClaims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 令牌（rosterctl token 与测试使用）
func IssueToken(secret string, claims JWTClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func deny(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// bearerToken Authorization 头优先，SSE 回退到 ?token=
func bearerToken(c *gin.Context) string {
	if scheme, tok, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && scheme == "Bearer" {
		return tok
	}
	return c.Query("token")
}

// JWTAuth 校验令牌并把身份写入上下文
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			deny(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			deny(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if !token.Valid || claims.UserID == "" {
			deny(c, http.StatusUnauthorized, 40103, "Invalid token claims")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRoles, claims.Roles)
		c.Set(ctxPerms, claims.Permissions)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// UserID 当前用户，未认证时为空
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// IsAdmin 当前用户是否持有 RoleAdmin
func IsAdmin(c *gin.Context) bool {
	return contains(c.GetStringSlice(ctxRoles), RoleAdmin)
}

func contains(list []string, want ...string) bool {
	for _, v := range list {
		for _, w := range want {
			if v == w {
				return true
			}
		}
	}
	return false
}

// RequirePermission 需要指定权限，"*" 匹配全部
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !contains(c.GetStringSlice(ctxPerms), permission, "*") {
			deny(c, http.StatusForbidden, 40302, "Permission denied: "+permission)
			return
		}
		c.Next()
	}
}

// RequireRole 需要指定角色，RoleAdmin 总是满足
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !contains(c.GetStringSlice(ctxRoles), role, RoleAdmin) {
			deny(c, http.StatusForbidden, 40312, "Role required: "+role)
			return
		}
		c.Next()
	}
}

// OwnerLookup 解析路由上资源（名册、成员、行项……）所属名册的所有者。
// ok 为 false 时 lookup 已写出错误响应（不存在、参数错误等）
type OwnerLookup func(c *gin.Context) (ownerID string, ok bool)

// RequireOwner 只允许资源所有者或管理员继续
func RequireOwner(lookup OwnerLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := lookup(c)
		if !ok {
			c.Abort()
			return
		}
		if owner != UserID(c) && !IsAdmin(c) {
			deny(c, http.StatusForbidden, 40300, "Not the owner of this roster")
			return
		}
		c.Set(ctxOwner, owner)
		c.Next()
	}
}
