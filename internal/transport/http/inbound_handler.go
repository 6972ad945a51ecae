package httptransport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/middleware"
	"mailbucket/backend/internal/monitoring"
)

// 表单解析时保存在内存中的上限，超出部分写入临时文件
const multipartMemory = 8 << 20

// InboundHandler 处理上游转发服务的 webhook 回调
type InboundHandler struct {
	processor *inbound.Processor
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewInboundHandler 创建入站处理器
func NewInboundHandler(processor *inbound.Processor, metrics *monitoring.Metrics, log *zap.Logger) *InboundHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboundHandler{processor: processor, metrics: metrics, log: log}
}

// Record POST /record
//
// 无论邮件被接受还是因编码问题被丢弃都返回 200 空响应，避免上游重试；
// 只有结构化字段无法解析时返回 400。
func (h *InboundHandler) Record(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if middleware.IsBodyTooLarge(err) {
			Error(c, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return
		}
		BadRequest(c, MsgInvalidForm)
		return
	}
	if form := c.Request.MultipartForm; form != nil {
		defer func() { _ = form.RemoveAll() }()
	}

	sub := inbound.Submission{
		Headers:        c.PostForm("headers"),
		Subject:        c.PostForm("subject"),
		Text:           c.PostForm("text"),
		HTML:           c.PostForm("html"),
		From:           c.PostForm("from"),
		Envelope:       c.PostForm("envelope"),
		Charsets:       c.PostForm("charsets"),
		AttachmentInfo: c.PostForm("attachment-info"),
	}
	meta := inbound.RequestMeta{
		RequestID:  middleware.GetRequestID(c),
		RemoteIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		ReceivedAt: time.Now().UTC(),
	}

	start := time.Now()
	outcome, err := h.processor.Process(c.Request.Context(), sub, meta)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordMalformed("webhook")
		}
		h.log.Warn("malformed inbound submission",
			zap.String("request_id", meta.RequestID),
			zap.String("ip", meta.RemoteIP),
			zap.Error(err))
		BadRequest(c, MsgMalformedPayload)
		return
	}

	switch o := outcome.(type) {
	case inbound.Accepted:
		if h.metrics != nil {
			h.metrics.RecordAccepted("webhook", time.Since(start))
		}
		h.log.Debug("inbound email accepted",
			zap.String("request_id", meta.RequestID),
			zap.String("token", o.Token))
	case inbound.Rejected:
		if h.metrics != nil {
			h.metrics.RecordRejected("webhook", string(o.Reason))
		}
		h.log.Info("inbound email rejected",
			zap.String("request_id", meta.RequestID),
			zap.String("reason", string(o.Reason)))
	}

	c.Status(http.StatusOK)
}
