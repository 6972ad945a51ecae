package smtp

import (
	"context"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/service"
	"mailbucket/backend/internal/storage/memory"
)

const multipartMessage = "From: =?UTF-8?B?5byg5LiJ?= <zhang@example.com>\r\n" +
	"To: box1@parse.mailingbox.tech\r\n" +
	"Subject: =?ISO-8859-1?Q?Caf=E9?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"caf=E9\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>hello</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0=\r\n" +
	"--outer--\r\n"

func TestParseMessage(t *testing.T) {
	t.Run("多部分邮件", func(t *testing.T) {
		msg, err := ParseMessage([]byte(multipartMessage))
		require.NoError(t, err)

		assert.Equal(t, "张三 <zhang@example.com>", msg.From)
		assert.Equal(t, "Café", msg.Subject)
		assert.Equal(t, "caf\xe9", msg.Text)
		assert.Equal(t, "iso-8859-1", msg.TextCharset)
		assert.Equal(t, "<p>hello</p>", msg.HTML)
		assert.Equal(t, "utf-8", msg.HTMLCharset)
		assert.Equal(t, []domain.AttachmentDescriptor{
			{Filename: "report.pdf", Name: "attachment1", Type: "application/pdf"},
		}, msg.Attachments)
		assert.True(t, strings.HasPrefix(msg.Headers, "From: "))
		assert.NotContains(t, msg.Headers, "--outer")
	})

	t.Run("单部分HTML", func(t *testing.T) {
		raw := "From: a@example.com\r\nContent-Type: text/html; charset=windows-1252\r\n\r\n<b>x</b>"
		msg, err := ParseMessage([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "<b>x</b>", msg.HTML)
		assert.Equal(t, "windows-1252", msg.HTMLCharset)
		assert.Empty(t, msg.Text)
	})

	t.Run("没有Content-Type按纯文本处理", func(t *testing.T) {
		msg, err := ParseMessage([]byte("From: a@example.com\r\n\r\nplain"))
		require.NoError(t, err)
		assert.Equal(t, "plain", msg.Text)
		assert.Empty(t, msg.TextCharset)
	})

	t.Run("multipart缺少boundary", func(t *testing.T) {
		_, err := ParseMessage([]byte("Content-Type: multipart/mixed\r\n\r\nbody"))
		assert.Error(t, err)
	})
}

func TestBuildSubmission(t *testing.T) {
	msg, err := ParseMessage([]byte(multipartMessage))
	require.NoError(t, err)

	sub, err := BuildSubmission(msg, "zhang@example.com", []string{"box1@parse.mailingbox.tech"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"to":["box1@parse.mailingbox.tech"],"from":"zhang@example.com"}`, sub.Envelope)
	assert.JSONEq(t, `{"from":"UTF-8","subject":"UTF-8","text":"iso-8859-1","html":"utf-8"}`, sub.Charsets)
	assert.Equal(t, `{"attachment1":{"filename":"report.pdf","name":"attachment1","type":"application/pdf"}}`, sub.AttachmentInfo)

	// 提交经过入站管道后得到与 webhook 相同的结果
	charsets, err := inbound.ParseCharsets(sub.Charsets)
	require.NoError(t, err)
	assert.Equal(t, "café", charsets.Decode(inbound.FieldText, sub.Text).Text)
}

type sessionFixture struct {
	backend *Backend
	store   *memory.Store
	metrics *monitoring.Metrics
}

func newSessionFixture(t *testing.T, limiter *ConnectionLimiter) *sessionFixture {
	t.Helper()
	store := memory.NewStore()
	metrics := monitoring.NewMetrics()
	resolver := inbound.NewResolver("parse.mailingbox.tech")
	recorder := service.NewRecordService(store, config.BucketConfig{HistoryLimit: 10}, nil)
	processor := inbound.NewProcessor(resolver, recorder, nil)
	return &sessionFixture{
		backend: NewBackend(processor, resolver, limiter, metrics, nil),
		store:   store,
		metrics: metrics,
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("投递到接收域名", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		s, err := f.backend.NewSession(nil)
		require.NoError(t, err)

		require.NoError(t, s.Mail("<zhang@example.com>", nil))
		require.NoError(t, s.Rcpt("<Box1@Parse.Mailingbox.Tech>", nil))
		require.NoError(t, s.Data(strings.NewReader(multipartMessage)))
		require.NoError(t, s.Logout())

		bucket, err := f.store.GetBucketByToken(ctx, "box1")
		require.NoError(t, err)
		emails, _, err := f.store.ListEmails(ctx, bucket.ID, 0, 10)
		require.NoError(t, err)
		require.Len(t, emails, 1)
		assert.Equal(t, "café", emails[0].Text)
		assert.Equal(t, "Café", emails[0].Subject)
		require.NotNil(t, emails[0].FromName)
		assert.Equal(t, "张三", *emails[0].FromName)
		assert.Len(t, emails[0].Attachments, 1)

		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboundSubmissions.WithLabelValues("smtp", "accepted")))
	})

	t.Run("拒绝外部域名", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		s, err := f.backend.NewSession(nil)
		require.NoError(t, err)

		err = s.Rcpt("someone@other.com", nil)
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)

		assert.Equal(t, errNoRecipients, s.Data(strings.NewReader("Subject: x\r\n\r\nbody")))
	})

	t.Run("编码非法时仍返回成功但不存储", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		s, err := f.backend.NewSession(nil)
		require.NoError(t, err)

		raw := "From: a@example.com\r\nContent-Type: text/plain; charset=us-ascii\r\n\r\ncaf\xe9"
		require.NoError(t, s.Rcpt("box2@parse.mailingbox.tech", nil))
		require.NoError(t, s.Data(strings.NewReader(raw)))

		_, err = f.store.GetBucketByToken(ctx, "box2")
		assert.Error(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboundRejections.WithLabelValues("invalid_text_encoding")))
	})

	t.Run("Reset清空收件人", func(t *testing.T) {
		f := newSessionFixture(t, nil)
		s, err := f.backend.NewSession(nil)
		require.NoError(t, err)

		require.NoError(t, s.Rcpt("box3@parse.mailingbox.tech", nil))
		s.Reset()
		assert.Equal(t, errNoRecipients, s.Data(strings.NewReader("Subject: x\r\n\r\nbody")))
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发连接上限", func(t *testing.T) {
		f := newSessionFixture(t, NewConnectionLimiter(1, 0))

		first, err := f.backend.NewSession(nil)
		require.NoError(t, err)

		_, err = f.backend.NewSession(nil)
		assert.Equal(t, errTooManyConnections, err)

		require.NoError(t, first.Logout())
		require.NoError(t, first.Logout())
		assert.Zero(t, f.backend.limiter.Current())

		_, err = f.backend.NewSession(nil)
		assert.NoError(t, err)
	})

	t.Run("新建速率", func(t *testing.T) {
		limiter := NewConnectionLimiter(0, 1)
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())
		assert.Equal(t, 1, limiter.Current())
	})
}

func TestNewServer(t *testing.T) {
	server := NewServer(NewBackend(nil, inbound.NewResolver("example.com"), nil, nil, nil), ":0", "mx.example.com")
	assert.Equal(t, "mx.example.com", server.Domain)
	assert.Equal(t, int64(MaxMessageBytes), server.MaxMessageBytes)
	assert.Equal(t, 10*time.Second, server.ReadTimeout)
}
