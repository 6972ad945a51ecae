package domain

// AttachmentDescriptor 描述入站请求中的一个附件（仅元数据，不含内容）。
//
// 字段名与上游转发服务 attachment-info 中的 JSON 键保持一致。
type AttachmentDescriptor struct {
	Filename string `json:"filename"`
	Name     string `json:"name"` // multipart 表单中的字段名
	Type     string `json:"type"` // MIME类型
}
