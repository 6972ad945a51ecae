package smtp

import (
	"bytes"
	"encoding/json"

	"mailbucket/backend/internal/inbound"
)

type envelope struct {
	To   []string `json:"to"`
	From string   `json:"from,omitempty"`
}

// BuildSubmission 把 SMTP 会话的信封与解析后的邮件转换为入站提交，
// 字段格式与 webhook 表单一致。
func BuildSubmission(msg *Message, mailFrom string, recipients []string) (inbound.Submission, error) {
	env, err := json.Marshal(envelope{To: recipients, From: mailFrom})
	if err != nil {
		return inbound.Submission{}, err
	}

	// 报头已在解析阶段解码为 UTF-8
	charsets := map[string]string{
		inbound.FieldFrom:    "UTF-8",
		inbound.FieldSubject: "UTF-8",
	}
	if msg.TextCharset != "" {
		charsets[inbound.FieldText] = msg.TextCharset
	}
	if msg.HTMLCharset != "" {
		charsets[inbound.FieldHTML] = msg.HTMLCharset
	}
	charsetJSON, err := json.Marshal(charsets)
	if err != nil {
		return inbound.Submission{}, err
	}

	attachments, err := attachmentInfo(msg)
	if err != nil {
		return inbound.Submission{}, err
	}

	return inbound.Submission{
		Headers:        msg.Headers,
		Subject:        msg.Subject,
		Text:           msg.Text,
		HTML:           msg.HTML,
		From:           msg.From,
		Envelope:       string(env),
		Charsets:       string(charsetJSON),
		AttachmentInfo: attachments,
	}, nil
}

// attachmentInfo 按附件出现顺序生成 attachment-info 对象。
func attachmentInfo(msg *Message) (string, error) {
	if len(msg.Attachments) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, att := range msg.Attachments {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(att.Name)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(att)
		if err != nil {
			return "", err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}
