package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailbucket/backend/internal/cache"
	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/storage"
)

// streamCacheTTL 实时计数结果的本地缓存时间，合并同一收件桶的高频轮询
const streamCacheTTL = time.Second

// BucketService 封装收件桶生命周期相关业务操作。
type BucketService struct {
	store    storage.Store
	cfg      config.BucketConfig
	log      *zap.Logger
	metrics  *monitoring.Metrics
	notifier Notifier
	stream   *cache.LocalCache
	now      func() time.Time
}

// NewBucketService 创建收件桶业务服务。
func NewBucketService(store storage.Store, cfg config.BucketConfig, log *zap.Logger) *BucketService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &BucketService{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// SetMetrics 设置监控指标
func (s *BucketService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// SetNotifier 设置事件通知器
func (s *BucketService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// SetStreamCache 设置实时计数结果缓存
func (s *BucketService) SetStreamCache(c *cache.LocalCache) {
	s.stream = c
}

// CreateBucketInput 定义创建收件桶所需的输入。
type CreateBucketInput struct {
	Token      string  // 可选，留空时随机生成
	OwnerToken string  // 可选，留空时随机生成
	UserID     *string // 可选：关联的用户ID
}

// CreateBucketResult 创建结果，OwnerToken 仅在此时以明文返回。
type CreateBucketResult struct {
	Bucket     *domain.Bucket
	OwnerToken string
}

// Create 创建新的收件桶。
func (s *BucketService) Create(ctx context.Context, input CreateBucketInput) (*CreateBucketResult, error) {
	token := domain.NormalizeToken(input.Token)
	if token == "" {
		token = randomToken()
	}
	if err := domain.ValidateToken(token); err != nil {
		return nil, err
	}

	ownerToken := strings.TrimSpace(input.OwnerToken)
	if ownerToken == "" {
		ownerToken = uuid.NewString()
	}
	if len(ownerToken) > 72 {
		return nil, ErrOwnerTokenTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(ownerToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash owner token: %w", err)
	}

	bucket := newBucket(token, input.UserID, string(hash), s.now(), s.cfg.DefaultTTL)
	if err := s.store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordBucketCreated()
	}
	s.log.Info("bucket created", zap.String("token", token))

	return &CreateBucketResult{Bucket: bucket, OwnerToken: ownerToken}, nil
}

// Get 根据令牌获取收件桶，过期视为不存在。
func (s *BucketService) Get(ctx context.Context, token string) (*domain.Bucket, error) {
	bucket, err := s.store.GetBucketByToken(ctx, domain.NormalizeToken(token))
	if err != nil {
		return nil, err
	}
	if bucket.Expired(s.now()) {
		return nil, storage.ErrBucketNotFound
	}
	return bucket, nil
}

// Show 返回收件桶及一页邮件（新的在前），page 从 1 开始。
func (s *BucketService) Show(ctx context.Context, token string, page int) (*domain.EmailPage, error) {
	bucket, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}

	emails, total, err := s.store.ListEmails(ctx, bucket.ID, (page-1)*s.cfg.PageSize, s.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	return &domain.EmailPage{
		Bucket:   bucket,
		Emails:   emails,
		Page:     page,
		PageSize: s.cfg.PageSize,
		Total:    total,
	}, nil
}

// Email 返回收件桶中的单封邮件。
func (s *BucketService) Email(ctx context.Context, token, emailID string) (*domain.Email, error) {
	bucket, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.store.GetEmail(ctx, bucket.ID, emailID)
}

// Clear 清空收件桶的历史邮件，返回删除数量。
func (s *BucketService) Clear(ctx context.Context, token, ownerToken string) (int, error) {
	bucket, err := s.authorize(ctx, token, ownerToken)
	if err != nil {
		return 0, err
	}

	count, err := s.store.DeleteEmails(ctx, bucket.ID)
	if err != nil {
		return 0, err
	}
	s.invalidateStream(bucket.Token)

	if s.notifier != nil {
		s.notifier.Notify(&domain.BucketEvent{
			Type:      domain.EventBucketCleared,
			Token:     bucket.Token,
			Timestamp: s.now(),
		})
	}
	s.log.Info("bucket cleared", zap.String("token", bucket.Token), zap.Int("deleted", count))
	return count, nil
}

// Destroy 删除收件桶及其全部邮件。
func (s *BucketService) Destroy(ctx context.Context, token, ownerToken string) error {
	bucket, err := s.authorize(ctx, token, ownerToken)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBucket(ctx, bucket.ID); err != nil {
		return err
	}
	s.invalidateStream(bucket.Token)

	if s.metrics != nil {
		s.metrics.RecordBucketDeleted()
	}
	s.log.Info("bucket destroyed", zap.String("token", bucket.Token))
	return nil
}

// RecentActivity 实时计数流的数据
type RecentActivity struct {
	EmailsCount int                   `json:"emails_count"`
	Emails      []domain.EmailSummary `json:"emails"`
}

// Recent 返回收件桶邮件总数及最近窗口内更新过的邮件摘要。
func (s *BucketService) Recent(ctx context.Context, token string) (*RecentActivity, error) {
	bucket, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if s.stream != nil {
		if cached, ok := s.stream.Get(bucket.Token); ok {
			return cached.(*RecentActivity), nil
		}
	}

	count, err := s.store.CountEmails(ctx, bucket.ID)
	if err != nil {
		return nil, err
	}
	emails, err := s.store.ListEmailsUpdatedSince(ctx, bucket.ID, s.now().Add(-s.cfg.RecentWindow))
	if err != nil {
		return nil, err
	}

	activity := &RecentActivity{
		EmailsCount: count,
		Emails:      make([]domain.EmailSummary, 0, len(emails)),
	}
	for i := range emails {
		activity.Emails = append(activity.Emails, emails[i].Summary())
	}

	if s.stream != nil {
		s.stream.Set(bucket.Token, activity, streamCacheTTL)
	}
	return activity, nil
}

// CleanupExpired 删除所有过期的收件桶。
func (s *BucketService) CleanupExpired(ctx context.Context) (int, error) {
	count, err := s.store.DeleteExpiredBuckets(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if s.metrics != nil {
			s.metrics.RecordBucketsExpired(count)
		}
		s.log.Info("expired buckets removed", zap.Int("count", count))
	}
	return count, nil
}

// RunCleanup 按间隔执行过期清理，直到 ctx 结束。
func (s *BucketService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.cfg.DefaultTTL <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.log.Error("failed to clean up expired buckets", zap.Error(err))
			}
		}
	}
}

// authorize 校验所有者令牌。
//
// 由入站邮件自动创建的收件桶没有所有者，持有令牌即可管理。
func (s *BucketService) authorize(ctx context.Context, token, ownerToken string) (*domain.Bucket, error) {
	bucket, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if bucket.OwnerTokenHash == "" {
		return bucket, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(bucket.OwnerTokenHash), []byte(ownerToken)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("verify owner token: %w", err)
	}
	return bucket, nil
}

func (s *BucketService) invalidateStream(token string) {
	if s.stream != nil {
		s.stream.Delete(token)
	}
}

// randomToken 生成随机收件桶令牌
func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
