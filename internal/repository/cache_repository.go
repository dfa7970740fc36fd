package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheRepository provides the Redis helpers used by fan-out and scheduling:
// recipient membership sets and the scheduler tick lock. All operations degrade
// to a miss when Redis is not configured.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

func recipientSetKey(announcementID string) string {
	return "announcement:recipients:" + announcementID
}

// StoreRecipientSet caches the resolved recipient IDs of an announcement.
func (r *CacheRepository) StoreRecipientSet(ctx context.Context, announcementID string, userIDs []string, ttl time.Duration) error {
	if r.client == nil || len(userIDs) == 0 {
		return nil
	}
	key := recipientSetKey(announcementID)
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store recipient set %s: %w", key, err)
	}
	return nil
}

// IsRecipient checks cached membership. The second return reports whether the
// set was present at all; absent sets force the caller to the database.
func (r *CacheRepository) IsRecipient(ctx context.Context, announcementID, userID string) (member bool, found bool, err error) {
	if r.client == nil {
		return false, false, nil
	}
	key := recipientSetKey(announcementID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, false, fmt.Errorf("check recipient set %s: %w", key, err)
	}
	if exists == 0 {
		return false, false, nil
	}
	member, err = r.client.SIsMember(ctx, key, userID).Result()
	if err != nil {
		return false, false, fmt.Errorf("check recipient membership %s: %w", key, err)
	}
	return member, true, nil
}

// AcquireLock takes a best-effort distributed lock. Returns false when another
// instance holds it. With Redis absent the lock is granted, which is correct
// for single-instance deployments.
func (r *CacheRepository) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, "lock:"+name, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock drops the lock early. Expiry handles the crash case.
func (r *CacheRepository) ReleaseLock(ctx context.Context, name string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, "lock:"+name).Err(); err != nil {
		r.logger.Warn("release lock failed", zap.String("lock", name), zap.Error(err))
	}
}
