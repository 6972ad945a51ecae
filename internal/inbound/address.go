package inbound

import (
	"regexp"

	"mailbucket/backend/internal/domain"
)

// fromPattern 宽松匹配 From 头：
//   - name:  可选的显示名（去掉包围的引号），后面必须跟一个空白
//   - email: 任何包含 @ 的片段（@ 两侧可以为空），直到结尾或 '>'
//
// 只要输入包含 @ 就一定能匹配，不做 RFC 5322 语法校验。
var fromPattern = regexp.MustCompile(`(?:"?(?P<name>[^"]*)"?\s)?(?:<?(?P<email>.*@[^>]*)>?)`)

var (
	fromNameIndex  = fromPattern.SubexpIndex("name")
	fromEmailIndex = fromPattern.SubexpIndex("email")
)

// ParseFrom 从 From 头中提取显示名与地址。
//
// 支持 `Name <email>`、`<email>`、`email`、`"Quoted Name" <email>`。
// 不含 @ 的输入返回空地址和 nil 显示名。
func ParseFrom(value string) domain.ParsedAddress {
	loc := fromPattern.FindStringSubmatchIndex(value)
	if loc == nil {
		return domain.ParsedAddress{}
	}

	var parsed domain.ParsedAddress
	if start, end := loc[2*fromNameIndex], loc[2*fromNameIndex+1]; start >= 0 {
		name := value[start:end]
		parsed.DisplayName = &name
	}
	if start, end := loc[2*fromEmailIndex], loc[2*fromEmailIndex+1]; start >= 0 {
		parsed.Email = value[start:end]
	}
	return parsed
}
