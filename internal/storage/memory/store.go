package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/storage"
)

// Store 使用内存保存收件桶与邮件数据，主要用于开发验证和测试。
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*domain.Bucket  // bucketID -> bucket
	byToken map[string]string          // token -> bucketID
	emails  map[string][]*domain.Email // bucketID -> 按写入顺序排列的邮件
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		buckets: make(map[string]*domain.Bucket),
		byToken: make(map[string]string),
		emails:  make(map[string][]*domain.Email),
	}
}

// CreateBucket 新建收件桶，令牌已存在时返回 ErrBucketExists。
func (s *Store) CreateBucket(_ context.Context, bucket *domain.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byToken[bucket.Token]; ok {
		return storage.ErrBucketExists
	}
	s.putBucketLocked(bucket)
	return nil
}

// SaveBucket 保存收件桶信息。
func (s *Store) SaveBucket(_ context.Context, bucket *domain.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putBucketLocked(bucket)
	return nil
}

func (s *Store) putBucketLocked(bucket *domain.Bucket) {
	cp := *bucket
	s.buckets[bucket.ID] = &cp
	s.byToken[bucket.Token] = bucket.ID
}

// GetBucketByToken 根据令牌获取收件桶。
func (s *Store) GetBucketByToken(_ context.Context, token string) (*domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}
	cp := *s.buckets[id]
	return &cp, nil
}

// DeleteBucket 删除收件桶及其全部邮件。
func (s *Store) DeleteBucket(_ context.Context, bucketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucketID]; !ok {
		return storage.ErrBucketNotFound
	}
	s.deleteBucketLocked(bucketID)
	return nil
}

// DeleteExpiredBuckets 删除所有在 now 之前过期的收件桶。
func (s *Store) DeleteExpiredBuckets(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, b := range s.buckets {
		if b.Expired(now) {
			s.deleteBucketLocked(id)
			count++
		}
	}
	return count, nil
}

func (s *Store) deleteBucketLocked(bucketID string) {
	if b, ok := s.buckets[bucketID]; ok {
		delete(s.byToken, b.Token)
	}
	delete(s.buckets, bucketID)
	delete(s.emails, bucketID)
}

// AppendEmail 保存邮件并裁剪历史。
func (s *Store) AppendEmail(_ context.Context, bucketID string, email *domain.Email, keep int) (*domain.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[bucketID]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}

	cp := *email
	cp.BucketID = bucketID
	list := append(s.emails[bucketID], &cp)
	if keep > 0 && len(list) > keep {
		list = append([]*domain.Email(nil), list[len(list)-keep:]...)
	}
	s.emails[bucketID] = list

	bucket.EmailsCount = len(list)
	at := email.CreatedAt
	if bucket.FirstEmailAt == nil {
		bucket.FirstEmailAt = &at
	}
	bucket.LastEmailAt = &at
	bucket.UpdatedAt = at

	out := *bucket
	return &out, nil
}

// GetEmail 获取单封邮件。
func (s *Store) GetEmail(_ context.Context, bucketID, emailID string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.emails[bucketID] {
		if e.ID == emailID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, storage.ErrEmailNotFound
}

// ListEmails 按创建时间倒序分页。
func (s *Store) ListEmails(_ context.Context, bucketID string, offset, limit int) ([]domain.Email, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.emails[bucketID]
	total := len(list)
	result := make([]domain.Email, 0)
	if offset < 0 {
		offset = 0
	}
	for i := total - 1 - offset; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, *list[i])
	}
	return result, total, nil
}

// ListEmailsUpdatedSince 返回 since 之后（含）更新过的邮件，新的在前。
func (s *Store) ListEmailsUpdatedSince(_ context.Context, bucketID string, since time.Time) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Email, 0)
	for _, e := range s.emails[bucketID] {
		if !e.UpdatedAt.Before(since) {
			result = append(result, *e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CountEmails 返回收件桶中的邮件数量。
func (s *Store) CountEmails(_ context.Context, bucketID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.emails[bucketID]), nil
}

// DeleteEmails 清空收件桶。
func (s *Store) DeleteEmails(_ context.Context, bucketID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[bucketID]
	if !ok {
		return 0, storage.ErrBucketNotFound
	}
	count := len(s.emails[bucketID])
	delete(s.emails, bucketID)

	bucket.EmailsCount = 0
	bucket.FirstEmailAt = nil
	bucket.LastEmailAt = nil
	return count, nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终健康。
func (s *Store) Health() error {
	return nil
}
