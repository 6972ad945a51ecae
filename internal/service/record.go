package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailbucket/backend/internal/cache"
	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/pool"
	"mailbucket/backend/internal/storage"
)

// RecordService 将通过校验的邮件归档到收件桶。
//
// 收件桶不存在时按令牌自动创建。
type RecordService struct {
	store    storage.Store
	cfg      config.BucketConfig
	log      *zap.Logger
	metrics  *monitoring.Metrics
	notifier Notifier
	workers  *pool.WorkerPool
	stream   *cache.LocalCache
	now      func() time.Time
}

var _ inbound.Recorder = (*RecordService)(nil)

// NewRecordService 创建归档服务。
func NewRecordService(store storage.Store, cfg config.BucketConfig, log *zap.Logger) *RecordService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecordService{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// SetMetrics 设置监控指标
func (s *RecordService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// SetNotifier 设置事件通知器，workers 为 nil 时同步通知
func (s *RecordService) SetNotifier(notifier Notifier, workers *pool.WorkerPool) {
	s.notifier = notifier
	s.workers = workers
}

// SetStreamCache 设置与 BucketService 共享的实时计数缓存，新邮件写入后使对应条目失效
func (s *RecordService) SetStreamCache(c *cache.LocalCache) {
	s.stream = c
}

// Record 归档一封邮件。
func (s *RecordService) Record(ctx context.Context, token string, email *domain.Email, meta inbound.RequestMeta) error {
	token = domain.NormalizeToken(token)
	if token == "" {
		s.drop("unroutable")
		return ErrUnroutable
	}
	if err := domain.ValidateRecipientToken(token); err != nil {
		s.drop("invalid_token")
		return fmt.Errorf("%w: %v", ErrUnroutable, err)
	}

	receivedAt := meta.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	bucket, err := s.findOrCreate(ctx, token, receivedAt)
	if err != nil {
		s.drop("store")
		return fmt.Errorf("resolve bucket %q: %w", token, err)
	}

	email.ID = uuid.NewString()
	email.CreatedAt = receivedAt
	email.UpdatedAt = receivedAt
	email.RemoteIP = meta.RemoteIP
	email.UserAgent = meta.UserAgent

	updated, err := s.store.AppendEmail(ctx, bucket.ID, email, s.cfg.HistoryLimit)
	if err != nil {
		s.drop("store")
		return fmt.Errorf("append email to bucket %q: %w", token, err)
	}

	if s.stream != nil {
		s.stream.Delete(token)
	}
	if s.metrics != nil {
		s.metrics.RecordEmailStored()
	}
	s.log.Info("email recorded",
		zap.String("request_id", meta.RequestID),
		zap.String("token", token),
		zap.String("email_id", email.ID),
		zap.Int("emails_count", updated.EmailsCount))

	summary := email.Summary()
	s.notify(&domain.BucketEvent{
		Type:        domain.EventNewEmail,
		Token:       token,
		EmailsCount: updated.EmailsCount,
		Email:       &summary,
		Timestamp:   receivedAt,
	})
	return nil
}

// findOrCreate 查找收件桶，不存在或已过期时重新创建
func (s *RecordService) findOrCreate(ctx context.Context, token string, now time.Time) (*domain.Bucket, error) {
	bucket, err := s.store.GetBucketByToken(ctx, token)
	switch {
	case err == nil && !bucket.Expired(now):
		return bucket, nil
	case err == nil:
		if err := s.store.DeleteBucket(ctx, bucket.ID); err != nil && !errors.Is(err, storage.ErrBucketNotFound) {
			return nil, err
		}
	case !errors.Is(err, storage.ErrBucketNotFound):
		return nil, err
	}

	bucket = newBucket(token, nil, "", now, s.cfg.DefaultTTL)
	if err := s.store.CreateBucket(ctx, bucket); err != nil {
		if errors.Is(err, storage.ErrBucketExists) {
			// 并发请求已创建同名收件桶
			return s.store.GetBucketByToken(ctx, token)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordBucketCreated()
	}
	return bucket, nil
}

func (s *RecordService) notify(event *domain.BucketEvent) {
	if s.notifier == nil {
		return
	}

	var queued bool
	if s.workers != nil {
		queued = s.workers.TrySubmit(func() { s.notifier.Notify(event) })
	} else {
		queued = s.notifier.Notify(event)
	}
	if s.metrics != nil {
		s.metrics.RecordNotification(queued)
	}
	if !queued {
		s.log.Warn("bucket event dropped", zap.String("token", event.Token))
	}
}

func (s *RecordService) drop(cause string) {
	if s.metrics != nil {
		s.metrics.RecordEmailDropped(cause)
	}
}

func newBucket(token string, userID *string, ownerHash string, now time.Time, ttl time.Duration) *domain.Bucket {
	bucket := &domain.Bucket{
		ID:             uuid.NewString(),
		Token:          token,
		OwnerTokenHash: ownerHash,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		bucket.ExpiresAt = &expiresAt
	}
	return bucket
}
