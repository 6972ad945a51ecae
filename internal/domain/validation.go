package domain

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// 验证相关的错误定义
var (
	ErrTokenEmpty   = errors.New("bucket token is empty")
	ErrTokenTooLong = errors.New("bucket token too long (max 64 chars)")
	ErrInvalidToken = errors.New("invalid bucket token format")
)

// 验证常量
const (
	// 令牌即邮箱地址的本地部分，遵循 RFC 5321 的 64 字符上限
	MaxTokenLength = 64
)

// 令牌验证：字母数字开头和结尾，中间允许 . _ - +
var tokenRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._+-]*[a-zA-Z0-9])?$`)

// 收件地址本地部分中不允许出现的字符，它们会破坏 /buckets/:token 路由
const unsafeRecipientChars = "/\\?#%@"

// NormalizeToken 统一令牌格式（去空白、小写）。
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// ValidateToken 验证收件桶令牌
func ValidateToken(token string) error {
	if token == "" {
		return ErrTokenEmpty
	}
	if len(token) > MaxTokenLength {
		return ErrTokenTooLong
	}
	if !tokenRegex.MatchString(token) {
		return ErrInvalidToken
	}
	return nil
}

// ValidateRecipientToken 验证由入站邮件收件地址得出的令牌。
//
// 比 ValidateToken 宽松：RFC 5322 允许的本地部分（如 o'brien、a=b、_box）
// 都可以自动建桶，只拒绝空白、控制字符和会破坏路由的字符。
func ValidateRecipientToken(token string) error {
	if token == "" {
		return ErrTokenEmpty
	}
	if len(token) > MaxTokenLength {
		return ErrTokenTooLong
	}
	for _, r := range token {
		if r == unicode.ReplacementChar || unicode.IsSpace(r) || !unicode.IsPrint(r) || strings.ContainsRune(unsafeRecipientChars, r) {
			return ErrInvalidToken
		}
	}
	return nil
}
