package inbound

import "errors"

// 结构性输入错误：上游保证这些字段是合法 JSON，解析失败直接返回给调用方。
var (
	ErrMalformedCharsets    = errors.New("malformed charsets")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
	ErrMalformedAttachments = errors.New("malformed attachment-info")
)
