package hybrid

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/storage"
	"mailbucket/backend/internal/storage/postgres"
	"mailbucket/backend/internal/storage/redis"
)

const (
	bucketCacheTTL = 5 * time.Minute
	emailCacheTTL  = 30 * time.Minute
)

// Store 混合存储实现，SQL 为权威数据源，Redis 作为读缓存
type Store struct {
	db    *postgres.Store
	cache *redis.Cache
	log   *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建混合存储实例
func NewStore(db *postgres.Store, cache *redis.Cache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, cache: cache, log: log}
}

// ========== Bucket Repository ==========

// CreateBucket 新建收件桶
func (s *Store) CreateBucket(ctx context.Context, bucket *domain.Bucket) error {
	if err := s.db.CreateBucket(ctx, bucket); err != nil {
		return err
	}
	s.cacheBucket(ctx, bucket)
	return nil
}

// SaveBucket 保存收件桶信息
func (s *Store) SaveBucket(ctx context.Context, bucket *domain.Bucket) error {
	if err := s.db.SaveBucket(ctx, bucket); err != nil {
		return err
	}
	s.cacheBucket(ctx, bucket)
	return nil
}

// GetBucketByToken 先查缓存，未命中时回源数据库
func (s *Store) GetBucketByToken(ctx context.Context, token string) (*domain.Bucket, error) {
	if bucket, err := s.cache.GetCachedBucket(ctx, token); err == nil {
		return bucket, nil
	}

	bucket, err := s.db.GetBucketByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	s.cacheBucket(ctx, bucket)
	return bucket, nil
}

// DeleteBucket 删除收件桶并清理缓存
func (s *Store) DeleteBucket(ctx context.Context, bucketID string) error {
	if err := s.db.DeleteBucket(ctx, bucketID); err != nil {
		return err
	}
	s.evictBucket(ctx, bucketID)
	return nil
}

// DeleteExpiredBuckets 直接在数据库中删除，缓存依靠 TTL 自然过期
func (s *Store) DeleteExpiredBuckets(ctx context.Context, now time.Time) (int, error) {
	return s.db.DeleteExpiredBuckets(ctx, now)
}

// ========== Email Repository ==========

// AppendEmail 写入数据库后刷新收件桶缓存并缓存新邮件
func (s *Store) AppendEmail(ctx context.Context, bucketID string, email *domain.Email, keep int) (*domain.Bucket, error) {
	bucket, err := s.db.AppendEmail(ctx, bucketID, email, keep)
	if err != nil {
		return nil, err
	}
	s.cacheBucket(ctx, bucket)
	if err := s.cache.CacheEmail(ctx, email, emailCacheTTL); err != nil {
		s.log.Warn("failed to cache email", zap.String("email_id", email.ID), zap.Error(err))
	}
	return bucket, nil
}

// GetEmail 先查缓存，未命中时回源数据库
func (s *Store) GetEmail(ctx context.Context, bucketID, emailID string) (*domain.Email, error) {
	if email, err := s.cache.GetCachedEmail(ctx, bucketID, emailID); err == nil {
		return email, nil
	}
	return s.db.GetEmail(ctx, bucketID, emailID)
}

// ListEmails 列表查询不缓存
func (s *Store) ListEmails(ctx context.Context, bucketID string, offset, limit int) ([]domain.Email, int, error) {
	return s.db.ListEmails(ctx, bucketID, offset, limit)
}

// ListEmailsUpdatedSince 直接查询数据库
func (s *Store) ListEmailsUpdatedSince(ctx context.Context, bucketID string, since time.Time) ([]domain.Email, error) {
	return s.db.ListEmailsUpdatedSince(ctx, bucketID, since)
}

// CountEmails 直接查询数据库
func (s *Store) CountEmails(ctx context.Context, bucketID string) (int, error) {
	return s.db.CountEmails(ctx, bucketID)
}

// DeleteEmails 清空收件桶并清理相关缓存
func (s *Store) DeleteEmails(ctx context.Context, bucketID string) (int, error) {
	count, err := s.db.DeleteEmails(ctx, bucketID)
	if err != nil {
		return 0, err
	}
	s.evictBucket(ctx, bucketID)
	if err := s.cache.DeleteCachedEmails(ctx, bucketID); err != nil {
		s.log.Warn("failed to evict cached emails", zap.String("bucket_id", bucketID), zap.Error(err))
	}
	return count, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 仅检查数据库，Redis 由独立探针检查
func (s *Store) Health() error {
	return s.db.Health()
}

// 缓存失败不影响主流程
func (s *Store) cacheBucket(ctx context.Context, bucket *domain.Bucket) {
	if err := s.cache.CacheBucket(ctx, bucket, bucketCacheTTL); err != nil {
		s.log.Warn("failed to cache bucket", zap.String("token", bucket.Token), zap.Error(err))
	}
}

func (s *Store) evictBucket(ctx context.Context, bucketID string) {
	if err := s.cache.DeleteCachedBucket(ctx, bucketID); err != nil {
		s.log.Warn("failed to evict cached bucket", zap.String("bucket_id", bucketID), zap.Error(err))
	}
}
