package domain

import "time"

// EventType 收件桶事件类型
type EventType string

const (
	// EventNewEmail 收件桶收到新邮件
	EventNewEmail      EventType = "new_email"
	// EventBucketCleared 收件桶被清空
	EventBucketCleared EventType = "bucket_cleared"
)

// BucketEvent 描述一次收件桶状态变化，供实时推送使用。
type BucketEvent struct {
	Type        EventType     `json:"type"`
	Token       string        `json:"token"`
	EmailsCount int           `json:"emailsCount"`
	Email       *EmailSummary `json:"email,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
