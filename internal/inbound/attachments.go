package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"mailbucket/backend/internal/domain"
)

// ParseAttachments 解析 attachment-info 字段。
//
// 输入是 字段名 -> {filename, name, type} 的 JSON 对象；返回值按对象中
// 键出现的顺序排列，键本身丢弃。空输入返回空切片。
func ParseAttachments(raw string) ([]domain.AttachmentDescriptor, error) {
	out := make([]domain.AttachmentDescriptor, 0)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAttachments, err)
	}
	if tok == nil {
		return out, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object, got %v", ErrMalformedAttachments, tok)
	}

	// encoding/json 的 map 不保留键顺序，这里逐个读取
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedAttachments, err)
		}
		var desc domain.AttachmentDescriptor
		if err := dec.Decode(&desc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedAttachments, err)
		}
		out = append(out, desc)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAttachments, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedAttachments)
	}
	return out, nil
}
