package domain

// ParsedAddress 是从 From 头中提取出的发件人信息。
//
// DisplayName 为 nil 表示原始值中没有显示名，与空字符串区分。
type ParsedAddress struct {
	DisplayName *string `json:"displayName"`
	Email       string  `json:"email"`
}

// HasName 报告是否解析到了显示名。
func (a ParsedAddress) HasName() bool {
	return a.DisplayName != nil
}
