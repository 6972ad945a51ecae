package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/middleware"
	"mailbucket/backend/internal/service"
)

// BucketHandler 处理收件桶相关接口
type BucketHandler struct {
	buckets         *service.BucketService
	receivingDomain string
	log             *zap.Logger
}

// NewBucketHandler 创建收件桶处理器
func NewBucketHandler(buckets *service.BucketService, receivingDomain string, log *zap.Logger) *BucketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BucketHandler{buckets: buckets, receivingDomain: receivingDomain, log: log}
}

type createBucketRequest struct {
	Token      string `json:"token"`
	OwnerToken string `json:"ownerToken"`
}

// BucketPayload 收件桶响应数据
type BucketPayload struct {
	*domain.Bucket
	Address    string `json:"address"`
	OwnerToken string `json:"ownerToken,omitempty"`
}

// Create POST /buckets
func (h *BucketHandler) Create(c *gin.Context) {
	// 请求体可以为空，此时生成随机令牌
	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.buckets.Create(c.Request.Context(), service.CreateBucketInput{
		Token:      req.Token,
		OwnerToken: req.OwnerToken,
	})
	if err != nil {
		respondError(c, err, MsgBucketCreateFailed)
		return
	}

	// 浏览器客户端通过 Cookie 证明所有权
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.OwnerTokenCookie, result.OwnerToken, 0, "/", "", false, true)

	Created(c, BucketPayload{
		Bucket:     result.Bucket,
		Address:    result.Bucket.Address(h.receivingDomain),
		OwnerToken: result.OwnerToken,
	})
}

// Show GET /buckets/:token?page=N
func (h *BucketHandler) Show(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	result, err := h.buckets.Show(c.Request.Context(), c.Param("token"), page)
	if err != nil {
		respondError(c, err, MsgBucketGetFailed)
		return
	}

	Success(c, gin.H{
		"bucket":   BucketPayload{Bucket: result.Bucket, Address: result.Bucket.Address(h.receivingDomain)},
		"emails":   result.Emails,
		"page":     result.Page,
		"pageSize": result.PageSize,
		"total":    result.Total,
	})
}

// Email GET /buckets/:token/emails/:id
func (h *BucketHandler) Email(c *gin.Context) {
	email, err := h.buckets.Email(c.Request.Context(), c.Param("token"), c.Param("id"))
	if err != nil {
		respondError(c, err, MsgEmailGetFailed)
		return
	}
	Success(c, email)
}

// Clear DELETE /buckets/:token/emails
func (h *BucketHandler) Clear(c *gin.Context) {
	count, err := h.buckets.Clear(c.Request.Context(), c.Param("token"), middleware.GetOwnerToken(c))
	if err != nil {
		respondError(c, err, MsgBucketClearFailed)
		return
	}
	Success(c, gin.H{"deleted": count})
}

// Destroy DELETE /buckets/:token
func (h *BucketHandler) Destroy(c *gin.Context) {
	if err := h.buckets.Destroy(c.Request.Context(), c.Param("token"), middleware.GetOwnerToken(c)); err != nil {
		respondError(c, err, MsgBucketDestroyFailed)
		return
	}
	NoContent(c)
}

// RequestsCount GET /buckets/:token/requests_count
//
// 推送一条 emails_count 事件后关闭流；客户端断开导致的写入错误被忽略。
func (h *BucketHandler) RequestsCount(c *gin.Context) {
	activity, err := h.buckets.Recent(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err, MsgBucketGetFailed)
		return
	}

	// Content-Type 由 SSE 渲染器写入
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	select {
	case <-c.Request.Context().Done():
		h.log.Debug("event stream client went away", zap.String("token", c.Param("token")))
		return
	default:
	}

	c.SSEvent("emails_count", activity)
	c.Writer.Flush()
}
