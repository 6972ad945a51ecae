package inbound

// RejectReason 说明提交被静默丢弃的原因。
type RejectReason string

const (
	RejectInvalidFrom RejectReason = "invalid_from_encoding"
	RejectInvalidText RejectReason = "invalid_text_encoding"
	RejectInvalidHTML RejectReason = "invalid_html_encoding"
)

// Fields 是编码校验关心的三个文本字段。
type Fields struct {
	From Field
	Text Field
	HTML Field
}

// Validate 依次检查 From、正文、HTML 是否为合法文本。
func Validate(f Fields) (RejectReason, bool) {
	switch {
	case !f.From.Valid:
		return RejectInvalidFrom, false
	case !f.Text.Valid:
		return RejectInvalidText, false
	case !f.HTML.Valid:
		return RejectInvalidHTML, false
	}
	return "", true
}
