package inbound

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailbucket/backend/internal/domain"
)

// Submission 是一次 webhook 调用中上游转发服务提交的原始表单字段。
type Submission struct {
	Headers        string
	Subject        string
	Text           string
	HTML           string
	From           string
	Envelope       string // JSON: {"to": [...], ...}
	Charsets       string // JSON: 字段名 -> 字符集
	AttachmentInfo string // JSON: 字段名 -> {filename, name, type}，可选
}

// RequestMeta 是随记录一起交给存储的原始请求信息，用于审计与日志。
type RequestMeta struct {
	RequestID  string
	RemoteIP   string
	UserAgent  string
	ReceivedAt time.Time
}

// Recorder 负责把规范化后的邮件归档到令牌对应的收件桶。
type Recorder interface {
	Record(ctx context.Context, token string, email *domain.Email, meta RequestMeta) error
}

// Outcome 是一次处理的结果：Accepted 或 Rejected。
// 边界层对两者都回复成功，区别只对调用方内部可见。
type Outcome interface {
	outcome()
}

// Accepted 表示邮件已构造并交给 Recorder。
type Accepted struct {
	Email *domain.Email
	Token string
}

// Rejected 表示提交因编码问题被静默丢弃。
type Rejected struct {
	Reason RejectReason
}

func (Accepted) outcome() {}
func (Rejected) outcome() {}

// Processor 串联入站管道的各个步骤。无共享可变状态，可并发使用。
type Processor struct {
	resolver *Resolver
	recorder Recorder
	log      *zap.Logger
}

// NewProcessor 创建入站处理器。
func NewProcessor(resolver *Resolver, recorder Recorder, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		resolver: resolver,
		recorder: recorder,
		log:      log,
	}
}

// Process 规范化一次提交并在通过校验时调用 Recorder 恰好一次。
//
// 只有结构性 JSON 错误会作为 error 返回；编码问题返回 Rejected。
// Recorder 的失败只记录日志，不重试，也不影响返回的 Accepted。
func (p *Processor) Process(ctx context.Context, sub Submission, meta RequestMeta) (Outcome, error) {
	charsets, err := ParseCharsets(sub.Charsets)
	if err != nil {
		return nil, err
	}

	// 第一阶段：From 必须先通过校验才会被解析
	from := charsets.Decode(FieldFrom, sub.From)
	if !from.Valid {
		return Rejected{Reason: RejectInvalidFrom}, nil
	}
	sender := ParseFrom(from.Text)

	env, err := p.resolver.Resolve(sub.Envelope)
	if err != nil {
		return nil, err
	}

	attachments, err := ParseAttachments(sub.AttachmentInfo)
	if err != nil {
		return nil, err
	}

	// 第二阶段：正文与 HTML
	fields := Fields{
		From: from,
		Text: charsets.Decode(FieldText, sub.Text),
		HTML: charsets.Decode(FieldHTML, sub.HTML),
	}
	if reason, ok := Validate(fields); !ok {
		return Rejected{Reason: reason}, nil
	}

	email := &domain.Email{
		Headers:     sub.Headers,
		FromName:    sender.DisplayName,
		FromEmail:   sender.Email,
		Subject:     charsets.Decode(FieldSubject, sub.Subject).Text,
		Text:        fields.Text.Text,
		HTML:        fields.HTML.Text,
		To:          env.Recipients,
		Email:       env.RoutingAddress,
		Attachments: attachments,
		RemoteIP:    meta.RemoteIP,
		UserAgent:   meta.UserAgent,
	}
	token := env.Token()

	if err := p.recorder.Record(ctx, token, email, meta); err != nil {
		p.log.Warn("failed to record inbound email",
			zap.String("token", token),
			zap.String("request_id", meta.RequestID),
			zap.Error(err),
		)
	}

	return Accepted{Email: email, Token: token}, nil
}
