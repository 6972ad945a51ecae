package storage

import (
	"context"
	"errors"
	"time"

	"mailbucket/backend/internal/domain"
)

var (
	// ErrBucketNotFound 收件桶不存在
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrBucketExists 收件桶令牌已被占用
	ErrBucketExists   = errors.New("bucket already exists")
	// ErrEmailNotFound 邮件不存在
	ErrEmailNotFound  = errors.New("email not found")
)

// BucketRepository 定义收件桶数据存取操作。
type BucketRepository interface {
	CreateBucket(ctx context.Context, bucket *domain.Bucket) error
	SaveBucket(ctx context.Context, bucket *domain.Bucket) error
	GetBucketByToken(ctx context.Context, token string) (*domain.Bucket, error)
	DeleteBucket(ctx context.Context, bucketID string) error
	DeleteExpiredBuckets(ctx context.Context, now time.Time) (int, error) // 返回删除数量
}

// EmailRepository 定义邮件数据存取操作。
type EmailRepository interface {
	// AppendEmail 原子地保存邮件、只保留最新 keep 封并更新收件桶计数，返回更新后的收件桶。
	AppendEmail(ctx context.Context, bucketID string, email *domain.Email, keep int) (*domain.Bucket, error)
	GetEmail(ctx context.Context, bucketID, emailID string) (*domain.Email, error)
	// ListEmails 按创建时间倒序分页，返回当前页与总数。
	ListEmails(ctx context.Context, bucketID string, offset, limit int) ([]domain.Email, int, error)
	ListEmailsUpdatedSince(ctx context.Context, bucketID string, since time.Time) ([]domain.Email, error)
	CountEmails(ctx context.Context, bucketID string) (int, error)
	// DeleteEmails 清空收件桶中的邮件并重置计数，返回删除数量。
	DeleteEmails(ctx context.Context, bucketID string) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	BucketRepository
	EmailRepository

	Close() error
	Health() error
}
