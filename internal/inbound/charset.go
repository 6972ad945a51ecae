package inbound

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// CharsetMap 记录每个表单字段声明的源字符集（字段名区分大小写）。
type CharsetMap map[string]string

// 上游转发服务使用的字段名
const (
	FieldFrom    = "from"
	FieldTo      = "to"
	FieldSubject = "subject"
	FieldText    = "text"
	FieldHTML    = "html"
)

// 严格按 US-ASCII 解码的标签。WHATWG 把这些标签映射到 windows-1252，
// 那样 0x80 以上的字节会被当成合法字符。
var asciiLabels = map[string]bool{
	"us-ascii":       true,
	"ascii":          true,
	"us":             true,
	"ansi_x3.4-1968": true,
	"iso646-us":      true,
	"iso-ir-6":       true,
	"cp367":          true,
	"ibm367":         true,
	"646":            true,
}

var utf8Labels = map[string]bool{
	"utf-8":             true,
	"utf8":              true,
	"unicode-1-1-utf-8": true,
}

// ParseCharsets 解析 charsets 表单字段。空值视为空映射。
func ParseCharsets(raw string) (CharsetMap, error) {
	charsets := CharsetMap{}
	if strings.TrimSpace(raw) == "" {
		return charsets, nil
	}
	if err := json.Unmarshal([]byte(raw), &charsets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCharsets, err)
	}
	if charsets == nil {
		charsets = CharsetMap{}
	}
	return charsets, nil
}

// Field 是一个已转码的字段以及它是否为合法文本。
type Field struct {
	Text  string
	Valid bool
}

// Decode 按字段声明的字符集转码。字段未出现在映射中时按原值处理，
// 此时只有原始值本身是合法 UTF-8 才算合法。
func (m CharsetMap) Decode(field, raw string) Field {
	label, ok := m[field]
	if !ok || label == "" {
		text, valid := passthrough(raw)
		return Field{Text: text, Valid: valid}
	}
	text, valid := Decode(raw, label)
	return Field{Text: text, Valid: valid}
}

// Transcode 将 raw 从 label 指定的字符集转换为 UTF-8。
//
// 无法解码的字节序列直接丢弃，结果中不会出现 U+FFFD。
// 未知字符集返回原值，其中不合法的 UTF-8 字节同样被丢弃。
func Transcode(raw, label string) string {
	text, _ := Decode(raw, label)
	return text
}

// Decode 与 Transcode 相同，额外报告转换是否无损：
// 有字节被丢弃、或未知字符集下原值不是合法 UTF-8 时返回 false。
func Decode(raw, label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))

	switch {
	case label == "":
		return passthrough(raw)
	case utf8Labels[label]:
		valid := utf8.ValidString(raw)
		return stripReplacement(strings.ToValidUTF8(raw, "")), valid
	case asciiLabels[label]:
		return decodeASCII(raw)
	}

	enc, ok := lookupEncoding(label)
	if !ok {
		return passthrough(raw)
	}

	out, _, err := transform.String(enc.NewDecoder(), raw)
	if err != nil {
		// 解码器本身出错时退化为只保留合法 UTF-8 部分
		return strings.ToValidUTF8(raw, ""), false
	}
	out = strings.ToValidUTF8(out, "")
	if !strings.ContainsRune(out, utf8.RuneError) {
		return out, true
	}
	return stripReplacement(out), false
}

// passthrough 保留原值；合法性按原值判断，输出始终是合法 UTF-8
func passthrough(raw string) (string, bool) {
	if utf8.ValidString(raw) {
		return raw, true
	}
	return strings.ToValidUTF8(raw, ""), false
}

func stripReplacement(s string) string {
	if !strings.ContainsRune(s, utf8.RuneError) {
		return s
	}
	return strings.ReplaceAll(s, string(utf8.RuneError), "")
}

// lookupEncoding 先按 WHATWG 标签查找，再按 IANA MIME 名称查找。
func lookupEncoding(label string) (encoding.Encoding, bool) {
	if enc, err := htmlindex.Get(label); err == nil {
		return enc, true
	}
	enc, err := ianaindex.MIME.Encoding(label)
	if err != nil || enc == nil {
		return nil, false
	}
	return enc, true
}

func decodeASCII(raw string) (string, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] >= utf8.RuneSelf {
			return dropNonASCII(raw), false
		}
	}
	return raw, true
}

func dropNonASCII(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] < utf8.RuneSelf {
			b.WriteByte(raw[i])
		}
	}
	return b.String()
}
