package domain

import (
	"time"
)

// Bucket 表示一个临时收件桶，通过路由令牌寻址。
type Bucket struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Token          string     `json:"token" gorm:"type:varchar(64);uniqueIndex;not null"`
	OwnerTokenHash string     `json:"-" gorm:"type:varchar(100)"`
	UserID         *string    `json:"userId,omitempty" gorm:"type:varchar(36);index"` // 关联的用户ID（可选，游客模式为nil）
	EmailsCount    int        `json:"emailsCount"`
	FirstEmailAt   *time.Time `json:"firstEmailAt,omitempty"`
	LastEmailAt    *time.Time `json:"lastEmailAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty" gorm:"index"`
}

// Expired 判断收件桶在给定时间是否已过期。
func (b *Bucket) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Address 返回收件桶在接收域名下的完整地址。
func (b *Bucket) Address(receivingDomain string) string {
	return b.Token + "@" + receivingDomain
}
