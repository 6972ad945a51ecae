package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailbucket/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "mailbucket:"

func bucketKey(token string) string {
	return fmt.Sprintf("%sbucket:%s", keyPrefix, token)
}

func bucketTokenKey(bucketID string) string {
	return fmt.Sprintf("%sbucket-token:%s", keyPrefix, bucketID)
}

func emailKey(bucketID, emailID string) string {
	return fmt.Sprintf("%semail:%s:%s", keyPrefix, bucketID, emailID)
}

// cachedBucket 在缓存中保留 API 输出时隐藏的字段
type cachedBucket struct {
	*domain.Bucket
	OwnerTokenHash string `json:"ownerTokenHash"`
}

// Cache Redis 缓存实现
type Cache struct {
	client *Client
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

// ========== 收件桶缓存 ==========

// CacheBucket 按令牌缓存收件桶，同时记录 ID 到令牌的映射以便按 ID 失效
func (c *Cache) CacheBucket(ctx context.Context, bucket *domain.Bucket, ttl time.Duration) error {
	data, err := json.Marshal(cachedBucket{Bucket: bucket, OwnerTokenHash: bucket.OwnerTokenHash})
	if err != nil {
		return err
	}
	pipe := c.client.rdb.TxPipeline()
	pipe.Set(ctx, bucketKey(bucket.Token), data, ttl)
	pipe.Set(ctx, bucketTokenKey(bucket.ID), bucket.Token, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// GetCachedBucket 获取缓存的收件桶
func (c *Cache) GetCachedBucket(ctx context.Context, token string) (*domain.Bucket, error) {
	cached := cachedBucket{Bucket: &domain.Bucket{}}
	if err := c.get(ctx, bucketKey(token), &cached); err != nil {
		return nil, err
	}
	cached.Bucket.OwnerTokenHash = cached.OwnerTokenHash
	return cached.Bucket, nil
}

// DeleteCachedBucket 按收件桶 ID 删除缓存
func (c *Cache) DeleteCachedBucket(ctx context.Context, bucketID string) error {
	token, err := c.client.rdb.Get(ctx, bucketTokenKey(bucketID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	}
	return c.client.rdb.Del(ctx, bucketKey(token), bucketTokenKey(bucketID)).Err()
}

// ========== 邮件缓存 ==========

// CacheEmail 缓存单封邮件
func (c *Cache) CacheEmail(ctx context.Context, email *domain.Email, ttl time.Duration) error {
	return c.set(ctx, emailKey(email.BucketID, email.ID), email, ttl)
}

// GetCachedEmail 获取缓存的邮件
func (c *Cache) GetCachedEmail(ctx context.Context, bucketID, emailID string) (*domain.Email, error) {
	var email domain.Email
	if err := c.get(ctx, emailKey(bucketID, emailID), &email); err != nil {
		return nil, err
	}
	return &email, nil
}

// DeleteCachedEmails 删除收件桶下的全部邮件缓存
func (c *Cache) DeleteCachedEmails(ctx context.Context, bucketID string) error {
	pattern := emailKey(bucketID, "*")
	iter := c.client.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.rdb.Del(ctx, keys...).Err()
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) get(ctx context.Context, key string, out interface{}) error {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, out)
}
