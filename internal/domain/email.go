package domain

import "time"

// Email 表示一封经过规范化、已归档到收件桶的邮件。
//
// 由入站管道构造一次，交给存储后不再修改。
type Email struct {
	ID          string                 `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BucketID    string                 `json:"bucketId" gorm:"type:varchar(36);index;not null"`
	Headers     string                 `json:"headers" gorm:"type:text"`
	FromName    *string                `json:"fromName" gorm:"type:varchar(255)"`
	FromEmail   string                 `json:"fromEmail" gorm:"type:varchar(255)"`
	Subject     string                 `json:"subject" gorm:"type:text"`
	Text        string                 `json:"text" gorm:"type:text"`
	HTML        string                 `json:"html" gorm:"type:text"`
	To          []string               `json:"to" gorm:"serializer:json;type:text"`
	Email       string                 `json:"email" gorm:"type:varchar(255)"` // 命中接收域名的收件人地址
	Attachments []AttachmentDescriptor `json:"attachments" gorm:"serializer:json;type:text"`
	RemoteIP    string                 `json:"-" gorm:"type:varchar(64)"`
	UserAgent   string                 `json:"-" gorm:"type:varchar(255)"`
	CreatedAt   time.Time              `json:"createdAt" gorm:"index"`
	UpdatedAt   time.Time              `json:"updatedAt" gorm:"index"`
}

// EmailSummary 是实时计数流中使用的精简邮件视图。
type EmailSummary struct {
	ID        string    `json:"id"`
	FromName  *string   `json:"fromName"`
	FromEmail string    `json:"fromEmail"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary 生成邮件摘要。
func (e *Email) Summary() EmailSummary {
	return EmailSummary{
		ID:        e.ID,
		FromName:  e.FromName,
		FromEmail: e.FromEmail,
		Subject:   e.Subject,
		CreatedAt: e.CreatedAt,
	}
}

// EmailPage 分页后的邮件列表。
type EmailPage struct {
	Bucket   *Bucket `json:"bucket"`
	Emails   []Email `json:"emails"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
	Total    int     `json:"total"`
}
