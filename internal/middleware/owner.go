package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// OwnerTokenHeader 所有者令牌请求头
	OwnerTokenHeader = "X-Owner-Token"
	// OwnerTokenCookie 所有者令牌 Cookie 名称
	OwnerTokenCookie = "owner_token"
	ownerTokenKey    = "ownerToken"
)

// OwnerToken 从请求头、Authorization 或 Cookie 中提取所有者令牌
//
// 校验由业务层完成，这里只负责提取。
func OwnerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ownerTokenKey, extractOwnerToken(c))
		c.Next()
	}
}

// GetOwnerToken 返回提取到的所有者令牌
func GetOwnerToken(c *gin.Context) string {
	return c.GetString(ownerTokenKey)
}

func extractOwnerToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(OwnerTokenHeader)); token != "" {
		return token
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(OwnerTokenCookie); err == nil {
		return cookie
	}
	return ""
}
