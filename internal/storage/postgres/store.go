package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/storage"
)

// Store 基于 GORM 的 SQL 存储实现，支持 PostgreSQL 与 MySQL。
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建 PostgreSQL 存储实例
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(cfg.DSN), cfg)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(cfg *config.DatabaseConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(cfg.DSN), cfg)
}

// Open 根据配置中的数据库类型创建存储实例
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return NewStore(cfg)
	case "mysql":
		return NewMySQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	return &Store{db: db}, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&domain.Bucket{}, &domain.Email{})
}

// ========== Bucket Repository ==========

// CreateBucket 新建收件桶
func (s *Store) CreateBucket(ctx context.Context, bucket *domain.Bucket) error {
	err := s.db.WithContext(ctx).Create(bucket).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrBucketExists
	}
	return err
}

// SaveBucket 保存收件桶信息
func (s *Store) SaveBucket(ctx context.Context, bucket *domain.Bucket) error {
	return s.db.WithContext(ctx).Save(bucket).Error
}

// GetBucketByToken 根据令牌获取收件桶
func (s *Store) GetBucketByToken(ctx context.Context, token string) (*domain.Bucket, error) {
	var bucket domain.Bucket
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&bucket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrBucketNotFound
		}
		return nil, err
	}
	return &bucket, nil
}

// DeleteBucket 删除收件桶及其邮件
func (s *Store) DeleteBucket(ctx context.Context, bucketID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bucket_id = ?", bucketID).Delete(&domain.Email{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", bucketID).Delete(&domain.Bucket{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrBucketNotFound
		}
		return nil
	})
}

// DeleteExpiredBuckets 删除所有过期的收件桶，返回删除数量
func (s *Store) DeleteExpiredBuckets(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Bucket{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = len(ids)
		if count == 0 {
			return nil
		}

		if err := tx.Where("bucket_id IN ?", ids).Delete(&domain.Email{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Bucket{}).Error
	})
	return count, err
}

// ========== Email Repository ==========

// AppendEmail 在事务中写入邮件、裁剪历史并更新收件桶计数
func (s *Store) AppendEmail(ctx context.Context, bucketID string, email *domain.Email, keep int) (*domain.Bucket, error) {
	var bucket domain.Bucket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁定收件桶行，串行化同一收件桶的并发写入
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", bucketID).First(&bucket).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrBucketNotFound
			}
			return err
		}

		email.BucketID = bucketID
		if err := tx.Create(email).Error; err != nil {
			return err
		}

		if keep > 0 {
			var stale []string
			if err := tx.Model(&domain.Email{}).
				Where("bucket_id = ?", bucketID).
				Order("created_at DESC").Order("id DESC").
				Offset(keep).Limit(1 << 30).
				Pluck("id", &stale).Error; err != nil {
				return err
			}
			if len(stale) > 0 {
				if err := tx.Where("id IN ?", stale).Delete(&domain.Email{}).Error; err != nil {
					return err
				}
			}
		}

		var total int64
		if err := tx.Model(&domain.Email{}).Where("bucket_id = ?", bucketID).Count(&total).Error; err != nil {
			return err
		}

		at := email.CreatedAt
		bucket.EmailsCount = int(total)
		if bucket.FirstEmailAt == nil {
			bucket.FirstEmailAt = &at
		}
		bucket.LastEmailAt = &at
		return tx.Save(&bucket).Error
	})
	if err != nil {
		return nil, err
	}
	return &bucket, nil
}

// GetEmail 获取单封邮件
func (s *Store) GetEmail(ctx context.Context, bucketID, emailID string) (*domain.Email, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).Where("id = ? AND bucket_id = ?", emailID, bucketID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// ListEmails 按创建时间倒序分页
func (s *Store) ListEmails(ctx context.Context, bucketID string, offset, limit int) ([]domain.Email, int, error) {
	var total int64
	query := s.db.WithContext(ctx).Model(&domain.Email{}).Where("bucket_id = ?", bucketID).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	emails := make([]domain.Email, 0)
	if limit <= 0 {
		limit = -1
	}
	if err := query.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&emails).Error; err != nil {
		return nil, 0, err
	}
	return emails, int(total), nil
}

// ListEmailsUpdatedSince 返回 since 之后更新过的邮件
func (s *Store) ListEmailsUpdatedSince(ctx context.Context, bucketID string, since time.Time) ([]domain.Email, error) {
	emails := make([]domain.Email, 0)
	err := s.db.WithContext(ctx).
		Where("bucket_id = ? AND updated_at >= ?", bucketID, since).
		Order("created_at DESC").
		Find(&emails).Error
	return emails, err
}

// CountEmails 返回收件桶中的邮件数量
func (s *Store) CountEmails(ctx context.Context, bucketID string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&domain.Email{}).Where("bucket_id = ?", bucketID).Count(&total).Error
	return int(total), err
}

// DeleteEmails 清空收件桶
func (s *Store) DeleteEmails(ctx context.Context, bucketID string) (int, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&domain.Bucket{}).Where("id = ?", bucketID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return storage.ErrBucketNotFound
		}

		result := tx.Where("bucket_id = ?", bucketID).Delete(&domain.Email{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected

		updates := map[string]interface{}{
			"emails_count":   0,
			"first_email_at": nil,
			"last_email_at":  nil,
		}
		return tx.Model(&domain.Bucket{}).Where("id = ?", bucketID).Updates(updates).Error
	})
	return int(deleted), err
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
