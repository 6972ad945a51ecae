package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(id, token string) *domain.Bucket {
	return &domain.Bucket{ID: id, Token: token, CreatedAt: time.Now()}
}

func newEmail(id string, at time.Time) *domain.Email {
	return &domain.Email{ID: id, FromEmail: "a@b.c", Subject: id, CreatedAt: at, UpdatedAt: at}
}

func TestMemoryStore_BucketOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.CreateBucket(ctx, newBucket("b1", "alice")))
	assert.ErrorIs(t, store.CreateBucket(ctx, newBucket("b2", "alice")), storage.ErrBucketExists)

	got, err := store.GetBucketByToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)

	// 返回副本，外部修改不影响存储
	got.EmailsCount = 99
	again, err := store.GetBucketByToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, again.EmailsCount)

	require.NoError(t, store.DeleteBucket(ctx, "b1"))
	_, err = store.GetBucketByToken(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrBucketNotFound)
	assert.ErrorIs(t, store.DeleteBucket(ctx, "b1"), storage.ErrBucketNotFound)
}

func TestMemoryStore_AppendEmailTrimsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateBucket(ctx, newBucket("b1", "alice")))

	base := time.Now().Add(-time.Minute)
	var bucket *domain.Bucket
	for i := 0; i < 5; i++ {
		var err error
		bucket, err = store.AppendEmail(ctx, "b1", newEmail(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second)), 3)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, bucket.EmailsCount)
	require.NotNil(t, bucket.FirstEmailAt)
	require.NotNil(t, bucket.LastEmailAt)
	assert.True(t, bucket.LastEmailAt.Equal(base.Add(4*time.Second)))

	emails, total, err := store.ListEmails(ctx, "b1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, emails, 3)
	assert.Equal(t, "e4", emails[0].ID)
	assert.Equal(t, "e2", emails[2].ID)

	_, err = store.GetEmail(ctx, "b1", "e0")
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)
}

func TestMemoryStore_AppendEmailUnknownBucket(t *testing.T) {
	_, err := NewStore().AppendEmail(context.Background(), "missing", newEmail("e1", time.Now()), 10)
	assert.ErrorIs(t, err, storage.ErrBucketNotFound)
}

func TestMemoryStore_ListEmailsPaging(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateBucket(ctx, newBucket("b1", "alice")))

	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.AppendEmail(ctx, "b1", newEmail(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second)), 0)
		require.NoError(t, err)
	}

	page, total, err := store.ListEmails(ctx, "b1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "e2", page[0].ID)
	assert.Equal(t, "e1", page[1].ID)

	page, _, err = store.ListEmails(ctx, "b1", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_ListEmailsUpdatedSince(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateBucket(ctx, newBucket("b1", "alice")))

	now := time.Now()
	_, err := store.AppendEmail(ctx, "b1", newEmail("old", now.Add(-time.Minute)), 0)
	require.NoError(t, err)
	_, err = store.AppendEmail(ctx, "b1", newEmail("new1", now.Add(-2*time.Second)), 0)
	require.NoError(t, err)
	_, err = store.AppendEmail(ctx, "b1", newEmail("new2", now.Add(-time.Second)), 0)
	require.NoError(t, err)

	recent, err := store.ListEmailsUpdatedSince(ctx, "b1", now.Add(-6*time.Second))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new2", recent[0].ID)
	assert.Equal(t, "new1", recent[1].ID)
}

func TestMemoryStore_DeleteEmails(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateBucket(ctx, newBucket("b1", "alice")))
	_, err := store.AppendEmail(ctx, "b1", newEmail("e1", time.Now()), 0)
	require.NoError(t, err)

	count, err := store.DeleteEmails(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := store.CountEmails(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, n)

	bucket, err := store.GetBucketByToken(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, bucket.EmailsCount)
	assert.Nil(t, bucket.LastEmailAt)
}

func TestMemoryStore_DeleteExpiredBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expired := newBucket("b1", "old")
	expired.ExpiresAt = &past
	alive := newBucket("b2", "new")
	alive.ExpiresAt = &future

	require.NoError(t, store.CreateBucket(ctx, expired))
	require.NoError(t, store.CreateBucket(ctx, alive))
	require.NoError(t, store.CreateBucket(ctx, newBucket("b3", "forever")))

	count, err := store.DeleteExpiredBuckets(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetBucketByToken(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrBucketNotFound)
	_, err = store.GetBucketByToken(ctx, "forever")
	assert.NoError(t, err)
}
