package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/service"
	"mailbucket/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 收件桶
	storage.ErrBucketNotFound: "收件桶不存在",
	storage.ErrBucketExists:   "收件桶令牌已被占用",
	storage.ErrEmailNotFound:  "邮件不存在",

	// 令牌校验
	domain.ErrTokenEmpty:   "收件桶令牌不能为空",
	domain.ErrTokenTooLong: "收件桶令牌过长（最多64个字符）",
	domain.ErrInvalidToken: "收件桶令牌格式无效",

	// 所有权
	service.ErrForbidden:         "所有者令牌不匹配",
	service.ErrOwnerTokenTooLong: "所有者令牌过长（最多72字节）",
}

// 错误到 HTTP 状态码的映射
var errorStatus = []struct {
	err    error
	status int
}{
	{storage.ErrBucketNotFound, http.StatusNotFound},
	{storage.ErrEmailNotFound, http.StatusNotFound},
	{storage.ErrBucketExists, http.StatusConflict},
	{domain.ErrTokenEmpty, http.StatusBadRequest},
	{domain.ErrTokenTooLong, http.StatusBadRequest},
	{domain.ErrInvalidToken, http.StatusBadRequest},
	{service.ErrOwnerTokenTooLong, http.StatusBadRequest},
	{service.ErrForbidden, http.StatusForbidden},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// respondError 按业务错误类型选择响应，未知错误记为 500
func respondError(c *gin.Context, err error, fallback string) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			Error(c, m.status, GetErrorMessage(err))
			return
		}
	}
	_ = c.Error(err)
	InternalError(c, fallback)
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidForm      = "表单格式错误"
	MsgMalformedPayload = "入站字段 JSON 格式错误"
	MsgBodyTooLarge     = "请求体过大"

	// 收件桶相关
	MsgBucketCreateFailed  = "创建收件桶失败"
	MsgBucketGetFailed     = "获取收件桶失败"
	MsgBucketClearFailed   = "清空收件桶失败"
	MsgBucketDestroyFailed = "删除收件桶失败"

	// 邮件相关
	MsgEmailGetFailed = "获取邮件详情失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
