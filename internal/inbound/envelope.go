package inbound

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope 是解析后的 SMTP 信封。
type Envelope struct {
	// Recipients 是信封 to 列表的独立副本，保持原始顺序。
	Recipients []string
	// RoutingAddress 是第一个属于接收域名的收件人，未命中时为空。
	RoutingAddress string
}

// Matched 报告是否找到了属于接收域名的收件人。
func (e Envelope) Matched() bool {
	return e.RoutingAddress != ""
}

// Token 返回路由令牌：命中地址 @ 之前的部分。未命中时为空字符串，表示无法路由。
func (e Envelope) Token() string {
	token, _, _ := strings.Cut(e.RoutingAddress, "@")
	return token
}

type envelopePayload struct {
	To []string `json:"to"`
}

// Resolver 根据接收域名从信封中选出路由地址。
type Resolver struct {
	suffix string
}

// NewResolver 创建信封解析器。receivingDomain 为本服务的收信域名，
// 例如 "parse.mailingbox.tech"。
func NewResolver(receivingDomain string) *Resolver {
	return &Resolver{suffix: "@" + strings.ToLower(strings.TrimSpace(receivingDomain))}
}

// Domain 返回接收域名。
func (r *Resolver) Domain() string {
	return strings.TrimPrefix(r.suffix, "@")
}

// Resolve 解析信封 JSON。多个收件人命中时第一个胜出。
func (r *Resolver) Resolve(raw string) (Envelope, error) {
	var payload envelopePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	env := Envelope{Recipients: make([]string, len(payload.To))}
	copy(env.Recipients, payload.To)

	for _, to := range env.Recipients {
		if r.Owns(to) {
			env.RoutingAddress = to
			break
		}
	}
	return env, nil
}

// Owns 报告地址是否属于接收域名（不区分大小写）。
func (r *Resolver) Owns(address string) bool {
	return strings.HasSuffix(strings.ToLower(address), r.suffix)
}
