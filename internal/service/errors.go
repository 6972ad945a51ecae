package service

import "errors"

var (
	// ErrUnroutable 邮件没有可用的路由令牌，无法归档到任何收件桶
	ErrUnroutable        = errors.New("email has no routable bucket token")
	// ErrForbidden 所有者令牌不匹配
	ErrForbidden         = errors.New("owner token does not match")
	// ErrOwnerTokenTooLong 所有者令牌超过 bcrypt 支持的 72 字节
	ErrOwnerTokenTooLong = errors.New("owner token too long (max 72 bytes)")
)
