package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/monitoring"
)

const (
	// MaxMessageBytes 单封邮件大小上限
	MaxMessageBytes = 20 << 20
	// MaxRecipients 单次会话最多接受的收件人数量
	MaxRecipients   = 50

	processTimeout = 30 * time.Second
)

var (
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errRelayDenied = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "relay access denied - domain not managed by this server",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errMalformedMessage = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "malformed message",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往接收域名的邮件，不做中继。DATA 阶段把邮件转换为与
// webhook 相同的提交，交给同一个入站管道处理。
type Backend struct {
	processor *inbound.Processor
	resolver  *inbound.Resolver
	limiter   *ConnectionLimiter
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewBackend 创建 SMTP Backend。limiter 与 metrics 可以为 nil。
func NewBackend(processor *inbound.Processor, resolver *inbound.Resolver, limiter *ConnectionLimiter, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		processor: processor,
		resolver:  resolver,
		limiter:   limiter,
		metrics:   metrics,
		log:       log,
	}
}

// NewServer 创建配置好超时与大小限制的 SMTP 服务器。
func NewServer(backend *Backend, addr, domain string) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = addr
	server.Domain = domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = MaxMessageBytes
	server.MaxRecipients = MaxRecipients
	return server
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.log.Warn("smtp connection rejected by limiter")
		return nil, errTooManyConnections
	}

	s := &session{backend: b}
	if c != nil {
		s.helo = c.Hostname()
		if conn := c.Conn(); conn != nil {
			s.remoteIP = remoteHost(conn.RemoteAddr())
		}
	}
	return s, nil
}

type session struct {
	backend    *Backend
	remoteIP   string
	helo       string
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，只接受接收域名下的地址。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if !s.backend.resolver.Owns(addr) {
		return errRelayDenied
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := io.ReadAll(io.LimitReader(r, MaxMessageBytes))
	if err != nil {
		return err
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		s.backend.malformed(err)
		return errMalformedMessage
	}
	sub, err := BuildSubmission(msg, s.from, s.recipients)
	if err != nil {
		s.backend.malformed(err)
		return errMalformedMessage
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	meta := inbound.RequestMeta{
		RemoteIP:   s.remoteIP,
		UserAgent:  s.helo,
		ReceivedAt: time.Now().UTC(),
	}

	start := time.Now()
	outcome, err := s.backend.processor.Process(ctx, sub, meta)
	if err != nil {
		s.backend.malformed(err)
		return errMalformedMessage
	}

	switch o := outcome.(type) {
	case inbound.Accepted:
		if s.backend.metrics != nil {
			s.backend.metrics.RecordAccepted("smtp", time.Since(start))
		}
		s.backend.log.Debug("smtp email accepted",
			zap.String("token", o.Token),
			zap.String("ip", s.remoteIP))
	case inbound.Rejected:
		// 与 webhook 一致：编码问题静默丢弃，对发件方仍返回成功
		if s.backend.metrics != nil {
			s.backend.metrics.RecordRejected("smtp", string(o.Reason))
		}
		s.backend.log.Info("smtp email rejected",
			zap.String("reason", string(o.Reason)),
			zap.String("ip", s.remoteIP))
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.released = true
		s.backend.limiter.Release()
	}
	return nil
}

func (b *Backend) malformed(err error) {
	if b.metrics != nil {
		b.metrics.RecordMalformed("smtp")
	}
	b.log.Warn("malformed smtp message", zap.Error(err))
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// IsClosed 判断错误是否来自已关闭的服务器。
func IsClosed(err error) bool {
	return errors.Is(err, gosmtp.ErrServerClosed)
}
