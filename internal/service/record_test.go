package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/pool"
	"mailbucket/backend/internal/storage"
	"mailbucket/backend/internal/storage/memory"
)

// recordingNotifier 记录收到的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.BucketEvent
	accept bool
}

func (n *recordingNotifier) Notify(event *domain.BucketEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.accept
}

func (n *recordingNotifier) Events() []*domain.BucketEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*domain.BucketEvent(nil), n.events...)
}

func testBucketConfig() config.BucketConfig {
	return config.BucketConfig{
		HistoryLimit: 3,
		PageSize:     2,
		RecentWindow: 6 * time.Second,
	}
}

func newEmail(subject string) *domain.Email {
	return &domain.Email{FromEmail: "sender@example.com", Subject: subject, To: []string{"box@parse.mailingbox.tech"}}
}

func TestRecordService_CreatesBucketOnFirstEmail(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewRecordService(store, testBucketConfig(), nil)
	notifier := &recordingNotifier{accept: true}
	svc.SetNotifier(notifier, nil)

	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := inbound.RequestMeta{RequestID: "req-1", RemoteIP: "10.0.0.1", UserAgent: "relay/1.0", ReceivedAt: received}

	email := newEmail("hello")
	require.NoError(t, svc.Record(ctx, "Box123", email, meta))

	bucket, err := store.GetBucketByToken(ctx, "box123")
	require.NoError(t, err)
	assert.Equal(t, 1, bucket.EmailsCount)
	assert.Empty(t, bucket.OwnerTokenHash)

	assert.NotEmpty(t, email.ID)
	assert.Equal(t, received, email.CreatedAt)
	assert.Equal(t, "10.0.0.1", email.RemoteIP)
	assert.Equal(t, "relay/1.0", email.UserAgent)

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventNewEmail, events[0].Type)
	assert.Equal(t, "box123", events[0].Token)
	assert.Equal(t, 1, events[0].EmailsCount)
	require.NotNil(t, events[0].Email)
	assert.Equal(t, "hello", events[0].Email.Subject)
}

func TestRecordService_TrimsHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewRecordService(store, testBucketConfig(), nil)

	base := time.Now()
	for i := 0; i < 5; i++ {
		meta := inbound.RequestMeta{ReceivedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, svc.Record(ctx, "box", newEmail("m"), meta))
	}

	bucket, err := store.GetBucketByToken(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, 3, bucket.EmailsCount)

	n, err := store.CountEmails(ctx, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecordService_IdenticalSubmissionsAreSeparateRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewRecordService(store, testBucketConfig(), nil)

	first, second := newEmail("same"), newEmail("same")
	require.NoError(t, svc.Record(ctx, "box", first, inbound.RequestMeta{}))
	require.NoError(t, svc.Record(ctx, "box", second, inbound.RequestMeta{}))

	assert.NotEqual(t, first.ID, second.ID)
	bucket, err := store.GetBucketByToken(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, 2, bucket.EmailsCount)
}

func TestRecordService_Unroutable(t *testing.T) {
	ctx := context.Background()
	metrics := monitoring.NewMetrics()
	svc := NewRecordService(memory.NewStore(), testBucketConfig(), nil)
	svc.SetMetrics(metrics)

	t.Run("空令牌", func(t *testing.T) {
		err := svc.Record(ctx, "", newEmail("x"), inbound.RequestMeta{})
		assert.ErrorIs(t, err, ErrUnroutable)
	})

	t.Run("非法令牌", func(t *testing.T) {
		err := svc.Record(ctx, "bad/token", newEmail("x"), inbound.RequestMeta{})
		assert.ErrorIs(t, err, ErrUnroutable)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EmailsDropped.WithLabelValues("unroutable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EmailsDropped.WithLabelValues("invalid_token")))
}

func TestRecordService_AcceptsAnyLocalPart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewRecordService(store, testBucketConfig(), nil)

	for _, token := range []string{"o'brien", "a=b", "_box", "box-", "user!x"} {
		t.Run(token, func(t *testing.T) {
			require.NoError(t, svc.Record(ctx, token, newEmail("x"), inbound.RequestMeta{}))

			bucket, err := store.GetBucketByToken(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, 1, bucket.EmailsCount)
		})
	}
}

func TestRecordService_ReplacesExpiredBucket(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateBucket(ctx, &domain.Bucket{ID: "old", Token: "box", ExpiresAt: &past}))

	svc := NewRecordService(store, testBucketConfig(), nil)
	require.NoError(t, svc.Record(ctx, "box", newEmail("x"), inbound.RequestMeta{}))

	bucket, err := store.GetBucketByToken(ctx, "box")
	require.NoError(t, err)
	assert.NotEqual(t, "old", bucket.ID)
	assert.Nil(t, bucket.ExpiresAt)
	assert.Equal(t, 1, bucket.EmailsCount)
}

func TestRecordService_AppliesDefaultTTL(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cfg := testBucketConfig()
	cfg.DefaultTTL = time.Hour

	svc := NewRecordService(store, cfg, nil)
	received := time.Now()
	require.NoError(t, svc.Record(ctx, "box", newEmail("x"), inbound.RequestMeta{ReceivedAt: received}))

	bucket, err := store.GetBucketByToken(ctx, "box")
	require.NoError(t, err)
	require.NotNil(t, bucket.ExpiresAt)
	assert.True(t, bucket.ExpiresAt.Equal(received.Add(time.Hour)))
}

// failingStore 在追加邮件时失败
type failingStore struct {
	*memory.Store
}

func (f failingStore) AppendEmail(context.Context, string, *domain.Email, int) (*domain.Bucket, error) {
	return nil, errors.New("disk full")
}

func TestRecordService_StoreFailure(t *testing.T) {
	svc := NewRecordService(failingStore{memory.NewStore()}, testBucketConfig(), nil)
	notifier := &recordingNotifier{accept: true}
	svc.SetNotifier(notifier, nil)

	err := svc.Record(context.Background(), "box", newEmail("x"), inbound.RequestMeta{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnroutable)
	assert.Empty(t, notifier.Events())
}

func TestRecordService_NotifiesThroughWorkerPool(t *testing.T) {
	workers := pool.NewWorkerPool(2, 8, nil)
	workers.Start(context.Background())

	notifier := &recordingNotifier{accept: true}
	metrics := monitoring.NewMetrics()
	svc := NewRecordService(memory.NewStore(), testBucketConfig(), nil)
	svc.SetNotifier(notifier, workers)
	svc.SetMetrics(metrics)

	require.NoError(t, svc.Record(context.Background(), "box", newEmail("x"), inbound.RequestMeta{}))
	workers.Stop()

	assert.Len(t, notifier.Events(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsQueued.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EmailsRecorded))
}

func TestRecordService_ConcurrentFirstEmails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cfg := testBucketConfig()
	cfg.HistoryLimit = 100
	svc := NewRecordService(store, cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Record(ctx, "race", newEmail("x"), inbound.RequestMeta{}))
		}()
	}
	wg.Wait()

	bucket, err := store.GetBucketByToken(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, 20, bucket.EmailsCount)
}

func TestMultiNotifier(t *testing.T) {
	a := &recordingNotifier{accept: false}
	b := &recordingNotifier{accept: true}

	assert.True(t, MultiNotifier{a, b}.Notify(&domain.BucketEvent{Token: "x"}))
	assert.False(t, MultiNotifier{a}.Notify(&domain.BucketEvent{Token: "x"}))
	assert.Len(t, a.Events(), 2)
}

var _ storage.Store = failingStore{}
