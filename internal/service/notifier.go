package service

import "mailbucket/backend/internal/domain"

// Notifier 接收收件桶事件并推送给实时订阅者。
//
// 实现必须是非阻塞的，返回 false 表示事件被丢弃。
type Notifier interface {
	Notify(event *domain.BucketEvent) bool
}

// MultiNotifier 将事件依次转发给多个通知器
type MultiNotifier []Notifier

// Notify 只要有一个通知器接收即返回 true
func (m MultiNotifier) Notify(event *domain.BucketEvent) bool {
	delivered := false
	for _, n := range m {
		if n.Notify(event) {
			delivered = true
		}
	}
	return delivered
}
